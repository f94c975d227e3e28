package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
)

// StatementBuilder 链式组装 xAPI statement，Build 时校验必填项
type StatementBuilder struct {
	id        string
	actor     *model.XAPIActor
	verb      *model.XAPIVerb
	object    *model.XAPIActivity
	result    *model.XAPIResult
	context   *model.XAPIContext
	timestamp *time.Time
}

func NewStatementBuilder() *StatementBuilder {
	return &StatementBuilder{id: uuid.NewString()}
}

func (b *StatementBuilder) SetID(id string) *StatementBuilder {
	b.id = id
	return b
}

// SetActor userId 映射为 mailto:{userId}@lms.com 的 mbox
func (b *StatementBuilder) SetActor(userID, name string) *StatementBuilder {
	b.actor = &model.XAPIActor{
		ObjectType: "Agent",
		Name:       name,
		Mbox:       ActorMbox(userID),
	}
	return b
}

func (b *StatementBuilder) SetActorAccount(name, accountName, homePage string) *StatementBuilder {
	b.actor = &model.XAPIActor{
		ObjectType: "Agent",
		Name:       name,
		Account:    &model.XAPIAccount{Name: accountName, HomePage: homePage},
	}
	return b
}

func (b *StatementBuilder) SetVerb(verb model.XAPIVerb) *StatementBuilder {
	b.verb = &verb
	return b
}

func (b *StatementBuilder) SetObject(activityID, name, activityType string) *StatementBuilder {
	activity := model.XAPIActivity{
		ObjectType: "Activity",
		ID:         activityID,
	}
	if name != "" || activityType != "" {
		activity.Definition = &model.XAPIActivityDefinition{Type: activityType}
		if name != "" {
			activity.Definition.Name = model.LanguageMap{"en-US": name}
		}
	}
	b.object = &activity
	return b
}

// SetScore raw/min/max 给定时自动算出 scaled = (raw-min)/(max-min)
func (b *StatementBuilder) SetScore(raw, min, max float64) *StatementBuilder {
	score := &model.XAPIScore{Raw: &raw, Min: &min, Max: &max}
	if max > min {
		scaled := (raw - min) / (max - min)
		score.Scaled = &scaled
	}
	b.ensureResult().Score = score
	return b
}

func (b *StatementBuilder) SetScaledScore(scaled float64) *StatementBuilder {
	b.ensureResult().Score = &model.XAPIScore{Scaled: &scaled}
	return b
}

func (b *StatementBuilder) SetSuccess(success bool) *StatementBuilder {
	b.ensureResult().Success = &success
	return b
}

func (b *StatementBuilder) SetCompletion(completion bool) *StatementBuilder {
	b.ensureResult().Completion = &completion
	return b
}

func (b *StatementBuilder) SetDuration(seconds float64) *StatementBuilder {
	b.ensureResult().Duration = DurationString(seconds)
	return b
}

func (b *StatementBuilder) SetResponse(response string) *StatementBuilder {
	b.ensureResult().Response = response
	return b
}

// SetCmi5Context registration + sessionid 扩展 + cmi5 category
func (b *StatementBuilder) SetCmi5Context(registration, sessionID string) *StatementBuilder {
	ctx := b.ensureContext()
	ctx.Registration = registration
	if ctx.Extensions == nil {
		ctx.Extensions = model.Extensions{}
	}
	ctx.Extensions[model.Cmi5SessionIDExt] = sessionID
	if ctx.ContextActivities == nil {
		ctx.ContextActivities = &model.XAPIContextActivities{}
	}
	ctx.ContextActivities.Category = append(ctx.ContextActivities.Category, model.XAPIActivity{
		ObjectType: "Activity",
		ID:         model.Cmi5CategoryIRI,
	})
	return b
}

func (b *StatementBuilder) SetCourseID(courseID string) *StatementBuilder {
	ctx := b.ensureContext()
	if ctx.Extensions == nil {
		ctx.Extensions = model.Extensions{}
	}
	ctx.Extensions[model.CourseIDExtension] = courseID
	return b
}

func (b *StatementBuilder) SetPlatform(platform string) *StatementBuilder {
	b.ensureContext().Platform = platform
	return b
}

func (b *StatementBuilder) SetLanguage(language string) *StatementBuilder {
	b.ensureContext().Language = language
	return b
}

func (b *StatementBuilder) SetTimestamp(ts time.Time) *StatementBuilder {
	b.timestamp = &ts
	return b
}

// Build 缺失必填项时按 actor → verb → object 顺序返回第一个错误
func (b *StatementBuilder) Build() (*model.XAPIStatement, error) {
	if b.actor == nil {
		return nil, util.ErrMissingActor
	}
	if b.verb == nil {
		return nil, util.ErrMissingVerb
	}
	if b.object == nil {
		return nil, util.ErrMissingObject
	}

	ts := b.timestamp
	if ts == nil {
		now := time.Now()
		ts = &now
	}

	return &model.XAPIStatement{
		ID:        b.id,
		Actor:     *b.actor,
		Verb:      *b.verb,
		Object:    *b.object,
		Result:    b.result,
		Context:   b.context,
		Timestamp: ts,
		Version:   model.XAPIVersion,
	}, nil
}

func (b *StatementBuilder) ensureResult() *model.XAPIResult {
	if b.result == nil {
		b.result = &model.XAPIResult{}
	}
	return b.result
}

func (b *StatementBuilder) ensureContext() *model.XAPIContext {
	if b.context == nil {
		b.context = &model.XAPIContext{}
	}
	return b.context
}

// ActorMbox userId 到标准 mbox 的映射
func ActorMbox(userID string) string {
	return fmt.Sprintf("mailto:%s@lms.com", userID)
}

// DurationString 秒数转 ISO 8601 时长: 0 -> PT0S, 90 -> PT1M30S, 3665 -> PT1H1M5S
func DurationString(seconds float64) string {
	total := int(seconds)
	if total <= 0 {
		return "PT0S"
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	out := "PT"
	if hours > 0 {
		out += fmt.Sprintf("%dH", hours)
	}
	if minutes > 0 {
		out += fmt.Sprintf("%dM", minutes)
	}
	if secs > 0 || (hours == 0 && minutes == 0) {
		out += fmt.Sprintf("%dS", secs)
	}
	return out
}

// 常用语句的便捷构造

func BuildLaunchedStatement(userID, userName, activityID, activityName, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbLaunched).
		SetObject(activityID, activityName, "http://adlnet.gov/expapi/activities/course").
		SetCmi5Context(registration, sessionID).
		Build()
}

func BuildInitializedStatement(userID, userName, activityID, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbInitialized).
		SetObject(activityID, "", "").
		SetCmi5Context(registration, sessionID).
		Build()
}

func BuildCompletedStatement(userID, userName, activityID string, durationSeconds float64, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbCompleted).
		SetObject(activityID, "", "").
		SetCompletion(true).
		SetDuration(durationSeconds).
		SetCmi5Context(registration, sessionID).
		Build()
}

func BuildPassedStatement(userID, userName, activityID string, raw, min, max float64, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbPassed).
		SetObject(activityID, "", "").
		SetScore(raw, min, max).
		SetSuccess(true).
		SetCmi5Context(registration, sessionID).
		Build()
}

func BuildFailedStatement(userID, userName, activityID string, raw, min, max float64, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbFailed).
		SetObject(activityID, "", "").
		SetScore(raw, min, max).
		SetSuccess(false).
		SetCmi5Context(registration, sessionID).
		Build()
}

func BuildTerminatedStatement(userID, userName, activityID string, durationSeconds float64, registration, sessionID string) (*model.XAPIStatement, error) {
	return NewStatementBuilder().
		SetActor(userID, userName).
		SetVerb(model.VerbTerminated).
		SetObject(activityID, "", "").
		SetDuration(durationSeconds).
		SetCmi5Context(registration, sessionID).
		Build()
}
