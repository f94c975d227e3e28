package model

import (
	"time"
)

// LanguageMap xAPI 的多语言显示名 (RFC 5646 tag -> text)
type LanguageMap map[string]string

// Extensions IRI 键的自由扩展字段
type Extensions map[string]interface{}

// XAPIStatement 一条学习活动记录 (xAPI 1.0.3)
type XAPIStatement struct {
	ID        string        `json:"id,omitempty"`
	Actor     XAPIActor     `json:"actor"`
	Verb      XAPIVerb      `json:"verb"`
	Object    XAPIActivity  `json:"object"`
	Result    *XAPIResult   `json:"result,omitempty"`
	Context   *XAPIContext  `json:"context,omitempty"`
	Timestamp *time.Time    `json:"timestamp,omitempty"`
	Stored    *time.Time    `json:"stored,omitempty"`
	Version   string        `json:"version,omitempty"`
}

// XAPIActor 行为主体。mbox 与 account 二选一
type XAPIActor struct {
	ObjectType string       `json:"objectType,omitempty"`
	Name       string       `json:"name,omitempty"`
	Mbox       string       `json:"mbox,omitempty"`
	Account    *XAPIAccount `json:"account,omitempty"`
}

type XAPIAccount struct {
	Name     string `json:"name"`
	HomePage string `json:"homePage"`
}

// XAPIVerb 动作，id 为规范 IRI
type XAPIVerb struct {
	ID      string      `json:"id"`
	Display LanguageMap `json:"display,omitempty"`
}

// XAPIActivity 被操作的活动 (课程、课时、测验等)
type XAPIActivity struct {
	ObjectType string                  `json:"objectType,omitempty"`
	ID         string                  `json:"id"`
	Definition *XAPIActivityDefinition `json:"definition,omitempty"`
}

type XAPIActivityDefinition struct {
	Name        LanguageMap `json:"name,omitempty"`
	Description LanguageMap `json:"description,omitempty"`
	Type        string      `json:"type,omitempty"`
	MoreInfo    string      `json:"moreInfo,omitempty"`
	Extensions  Extensions  `json:"extensions,omitempty"`
}

// XAPIResult 可选的结果字段
type XAPIResult struct {
	Score      *XAPIScore `json:"score,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	Completion *bool      `json:"completion,omitempty"`
	Response   string     `json:"response,omitempty"`
	Duration   string     `json:"duration,omitempty"` // ISO 8601 duration
	Extensions Extensions `json:"extensions,omitempty"`
}

// XAPIScore scaled 必须落在 [-1, 1]
type XAPIScore struct {
	Scaled *float64 `json:"scaled,omitempty"`
	Raw    *float64 `json:"raw,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// XAPIContext 执行上下文。registration 把同一次尝试的 statement 分组
type XAPIContext struct {
	Registration      string                 `json:"registration,omitempty"`
	Instructor        *XAPIActor             `json:"instructor,omitempty"`
	ContextActivities *XAPIContextActivities `json:"contextActivities,omitempty"`
	Platform          string                 `json:"platform,omitempty"`
	Language          string                 `json:"language,omitempty"`
	Extensions        Extensions             `json:"extensions,omitempty"`
}

type XAPIContextActivities struct {
	Parent   []XAPIActivity `json:"parent,omitempty"`
	Grouping []XAPIActivity `json:"grouping,omitempty"`
	Category []XAPIActivity `json:"category,omitempty"`
	Other    []XAPIActivity `json:"other,omitempty"`
}

// cmi5 规范里的常量
const (
	XAPIVersion       = "1.0.3"
	Cmi5CategoryIRI   = "https://w3id.org/xapi/cmi5/context/categories/cmi5"
	Cmi5SessionIDExt  = "https://w3id.org/xapi/cmi5/context/extensions/sessionid"
	CourseIDExtension = "https://example.com/courseId"
)

// 预定义动词
var (
	VerbLaunched    = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/launched", Display: LanguageMap{"en-US": "launched"}}
	VerbInitialized = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/initialized", Display: LanguageMap{"en-US": "initialized"}}
	VerbAttempted   = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/attempted", Display: LanguageMap{"en-US": "attempted"}}
	VerbCompleted   = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/completed", Display: LanguageMap{"en-US": "completed"}}
	VerbPassed      = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/passed", Display: LanguageMap{"en-US": "passed"}}
	VerbFailed      = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/failed", Display: LanguageMap{"en-US": "failed"}}
	VerbTerminated  = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/terminated", Display: LanguageMap{"en-US": "terminated"}}
	VerbSuspended   = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/suspended", Display: LanguageMap{"en-US": "suspended"}}
	VerbResumed     = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/resumed", Display: LanguageMap{"en-US": "resumed"}}
	VerbScored      = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/scored", Display: LanguageMap{"en-US": "scored"}}
	VerbProgressed  = XAPIVerb{ID: "http://adlnet.gov/expapi/verbs/progressed", Display: LanguageMap{"en-US": "progressed"}}
)

// AllowedCmi5Verbs cmi5 defined-statement 允许的动词
var AllowedCmi5Verbs = map[string]bool{
	"http://adlnet.gov/expapi/verbs/launched":    true,
	"http://adlnet.gov/expapi/verbs/initialized": true,
	"http://adlnet.gov/expapi/verbs/completed":   true,
	"http://adlnet.gov/expapi/verbs/passed":      true,
	"http://adlnet.gov/expapi/verbs/failed":      true,
	"http://adlnet.gov/expapi/verbs/abandoned":   true,
	"http://adlnet.gov/expapi/verbs/waived":      true,
	"http://adlnet.gov/expapi/verbs/terminated":  true,
	"http://adlnet.gov/expapi/verbs/satisfied":   true,
}

// HasCmi5Category context.contextActivities.category 是否带 cmi5 活动
func (s *XAPIStatement) HasCmi5Category() bool {
	if s.Context == nil || s.Context.ContextActivities == nil {
		return false
	}
	for _, a := range s.Context.ContextActivities.Category {
		if a.ID == Cmi5CategoryIRI {
			return true
		}
	}
	return false
}
