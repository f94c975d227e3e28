package service

import (
	"regexp"
	"strings"
	"time"

	"xapi_sync_backend/internal/model"
)

// ValidationError 结构化校验错误码
type ValidationError string

const (
	ErrMissingActorIdentifier  ValidationError = "missingActorIdentifier"
	ErrInvalidMboxFormat       ValidationError = "invalidMboxFormat"
	ErrInvalidAccountHomePage  ValidationError = "invalidAccountHomePage"
	ErrInvalidVerbIRI          ValidationError = "invalidVerbIRI"
	ErrInvalidActivityIRI      ValidationError = "invalidActivityIRI"
	ErrInvalidActivityType     ValidationError = "invalidActivityType"
	ErrInvalidScaledScore      ValidationError = "invalidScaledScore"
	ErrInvalidRawScore         ValidationError = "invalidRawScore"
	ErrInvalidMinMaxScore      ValidationError = "invalidMinMaxScore"
	ErrInvalidDurationFormat   ValidationError = "invalidDurationFormat"
	ErrInvalidLanguageCode     ValidationError = "invalidLanguageCode"
	ErrFutureTimestamp         ValidationError = "futureTimestamp"
	ErrMissingCmi5Registration ValidationError = "missingCmi5Registration"
	ErrMissingCmi5Category     ValidationError = "missingCmi5Category"
	ErrInvalidCmi5Verb         ValidationError = "invalidCmi5Verb"
)

// ValidationWarning 非致命提示
type ValidationWarning string

const (
	WarnMissingVerbDisplay        ValidationWarning = "missingVerbDisplay"
	WarnMissingActivityDefinition ValidationWarning = "missingActivityDefinition"
	WarnMissingResultDuration     ValidationWarning = "missingResultDuration"
)

// ValidationResult 单条 statement 的完整校验结果
type ValidationResult struct {
	IsValid  bool                `json:"isValid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

var (
	iriPattern      = regexp.MustCompile(`^https?://[\w\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2})?$`)
	durationPattern = regexp.MustCompile(`^P(?:\d+Y)?(?:\d+M)?(?:\d+D)?(?:T(?:\d+H)?(?:\d+M)?(?:\d+(?:\.\d+)?S)?)?$`)
)

// StatementValidator 无状态规则集。所有规则独立求值，错误全部上报，不短路
type StatementValidator struct{}

func NewStatementValidator() *StatementValidator {
	return &StatementValidator{}
}

// ValidateStatement 按 actor → verb → object → result → context → timestamp 的顺序收集全部错误
func (v *StatementValidator) ValidateStatement(st *model.XAPIStatement) ValidationResult {
	var errs []ValidationError
	var warns []ValidationWarning

	errs = appendDistinct(errs, v.validateActor(&st.Actor)...)

	verbErrs, verbWarns := v.validateVerb(&st.Verb)
	errs = appendDistinct(errs, verbErrs...)
	warns = append(warns, verbWarns...)

	actErrs, actWarns := v.validateActivity(&st.Object)
	errs = appendDistinct(errs, actErrs...)
	warns = append(warns, actWarns...)

	if st.Result != nil {
		errs = appendDistinct(errs, v.validateResult(st.Result)...)
	}

	if st.Context != nil {
		errs = appendDistinct(errs, v.validateContext(st.Context)...)
	}

	if st.Timestamp != nil && st.Timestamp.After(time.Now()) {
		errs = appendDistinct(errs, ErrFutureTimestamp)
	}

	if st.Verb.ID == model.VerbCompleted.ID && (st.Result == nil || st.Result.Duration == "") {
		warns = append(warns, WarnMissingResultDuration)
	}

	return ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
	}
}

// ValidateCmi5Statement 在通用规则之上追加 cmi5 profile 要求
func (v *StatementValidator) ValidateCmi5Statement(st *model.XAPIStatement) ValidationResult {
	result := v.ValidateStatement(st)
	errs := result.Errors

	if st.Context == nil || st.Context.Registration == "" {
		errs = appendDistinct(errs, ErrMissingCmi5Registration)
	}

	if !st.HasCmi5Category() {
		errs = appendDistinct(errs, ErrMissingCmi5Category)
	}

	if !model.AllowedCmi5Verbs[st.Verb.ID] {
		errs = appendDistinct(errs, ErrInvalidCmi5Verb)
	}

	return ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: result.Warnings,
	}
}

func (v *StatementValidator) validateActor(actor *model.XAPIActor) []ValidationError {
	var errs []ValidationError

	// mbox 与 account 必须恰好出现一个
	hasMbox := actor.Mbox != ""
	hasAccount := actor.Account != nil
	if hasMbox == hasAccount {
		errs = append(errs, ErrMissingActorIdentifier)
	}

	if hasMbox {
		if !strings.HasPrefix(actor.Mbox, "mailto:") || !strings.Contains(actor.Mbox, "@") {
			errs = append(errs, ErrInvalidMboxFormat)
		}
	}

	if hasAccount {
		if actor.Account.Name == "" || !isValidIRI(actor.Account.HomePage) {
			errs = append(errs, ErrInvalidAccountHomePage)
		}
	}

	return errs
}

func (v *StatementValidator) validateVerb(verb *model.XAPIVerb) ([]ValidationError, []ValidationWarning) {
	var errs []ValidationError
	var warns []ValidationWarning

	if !isValidIRI(verb.ID) {
		errs = append(errs, ErrInvalidVerbIRI)
	}

	if len(verb.Display) == 0 {
		warns = append(warns, WarnMissingVerbDisplay)
	}

	return errs, warns
}

func (v *StatementValidator) validateActivity(activity *model.XAPIActivity) ([]ValidationError, []ValidationWarning) {
	var errs []ValidationError
	var warns []ValidationWarning

	if !isValidIRI(activity.ID) {
		errs = append(errs, ErrInvalidActivityIRI)
	}

	if activity.Definition != nil {
		if activity.Definition.Type != "" && !isValidIRI(activity.Definition.Type) {
			errs = append(errs, ErrInvalidActivityType)
		}
		if len(activity.Definition.Name) == 0 {
			warns = append(warns, WarnMissingActivityDefinition)
		}
	} else {
		warns = append(warns, WarnMissingActivityDefinition)
	}

	return errs, warns
}

func (v *StatementValidator) validateResult(result *model.XAPIResult) []ValidationError {
	var errs []ValidationError

	if result.Score != nil {
		errs = append(errs, v.validateScore(result.Score)...)
	}

	if result.Duration != "" && !IsValidISO8601Duration(result.Duration) {
		errs = append(errs, ErrInvalidDurationFormat)
	}

	return errs
}

func (v *StatementValidator) validateScore(score *model.XAPIScore) []ValidationError {
	var errs []ValidationError

	if score.Scaled != nil {
		if *score.Scaled < -1.0 || *score.Scaled > 1.0 {
			errs = append(errs, ErrInvalidScaledScore)
		}
	}

	if score.Raw != nil {
		if score.Min != nil && *score.Raw < *score.Min {
			errs = append(errs, ErrInvalidRawScore)
		}
		if score.Max != nil && *score.Raw > *score.Max {
			errs = append(errs, ErrInvalidRawScore)
		}
	}

	if score.Min != nil && score.Max != nil && *score.Min >= *score.Max {
		errs = append(errs, ErrInvalidMinMaxScore)
	}

	return errs
}

func (v *StatementValidator) validateContext(ctx *model.XAPIContext) []ValidationError {
	var errs []ValidationError

	if ctx.Language != "" && !languagePattern.MatchString(ctx.Language) {
		errs = append(errs, ErrInvalidLanguageCode)
	}

	if ctx.ContextActivities != nil {
		groups := [][]model.XAPIActivity{
			ctx.ContextActivities.Parent,
			ctx.ContextActivities.Grouping,
			ctx.ContextActivities.Category,
			ctx.ContextActivities.Other,
		}
		for _, group := range groups {
			for i := range group {
				actErrs, _ := v.validateActivity(&group[i])
				errs = append(errs, actErrs...)
			}
		}
	}

	return errs
}

func isValidIRI(s string) bool {
	return iriPattern.MatchString(s)
}

// IsValidISO8601Duration PT1H1M5S 之类的时长格式
func IsValidISO8601Duration(s string) bool {
	if s == "" || s == "P" {
		return false
	}
	return durationPattern.MatchString(s)
}

// appendDistinct 保持首次出现顺序，去掉重复错误码
func appendDistinct(errs []ValidationError, more ...ValidationError) []ValidationError {
	for _, e := range more {
		seen := false
		for _, existing := range errs {
			if existing == e {
				seen = true
				break
			}
		}
		if !seen {
			errs = append(errs, e)
		}
	}
	return errs
}
