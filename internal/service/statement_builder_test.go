package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
)

func TestStatementBuilder_Build(t *testing.T) {
	st, err := NewStatementBuilder().
		SetActor("user-1", "Test User").
		SetVerb(model.VerbCompleted).
		SetObject("https://lms.example.com/courses/go-101", "Go 101", "http://adlnet.gov/expapi/activities/course").
		Build()

	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "mailto:user-1@lms.com", st.Actor.Mbox)
	assert.Equal(t, model.VerbCompleted.ID, st.Verb.ID)
	assert.Equal(t, "https://lms.example.com/courses/go-101", st.Object.ID)
	assert.Equal(t, "Go 101", st.Object.Definition.Name["en-US"])
	assert.Equal(t, model.XAPIVersion, st.Version)
	assert.NotNil(t, st.Timestamp)
}

// 缺失必填项按 actor → verb → object 顺序报告
func TestStatementBuilder_MissingFields(t *testing.T) {
	_, err := NewStatementBuilder().Build()
	assert.ErrorIs(t, err, util.ErrMissingActor)

	_, err = NewStatementBuilder().SetActor("u", "").Build()
	assert.ErrorIs(t, err, util.ErrMissingVerb)

	_, err = NewStatementBuilder().SetActor("u", "").SetVerb(model.VerbLaunched).Build()
	assert.ErrorIs(t, err, util.ErrMissingObject)
}

func TestStatementBuilder_SetScore_ComputesScaled(t *testing.T) {
	st, err := NewStatementBuilder().
		SetActor("u", "").
		SetVerb(model.VerbPassed).
		SetObject("https://lms.example.com/quiz/1", "", "").
		SetScore(85, 0, 100).
		Build()

	require.NoError(t, err)
	require.NotNil(t, st.Result)
	require.NotNil(t, st.Result.Score)
	assert.InDelta(t, 0.85, *st.Result.Score.Scaled, 1e-9) // (85-0)/(100-0)
	assert.Equal(t, 85.0, *st.Result.Score.Raw)
}

func TestStatementBuilder_SetCmi5Context(t *testing.T) {
	st, err := NewStatementBuilder().
		SetActor("u", "").
		SetVerb(model.VerbInitialized).
		SetObject("https://lms.example.com/courses/go-101", "", "").
		SetCmi5Context("reg-1", "sess-1").
		Build()

	require.NoError(t, err)
	require.NotNil(t, st.Context)
	assert.Equal(t, "reg-1", st.Context.Registration)
	assert.Equal(t, "sess-1", st.Context.Extensions[model.Cmi5SessionIDExt])
	assert.True(t, st.HasCmi5Category())
}

func TestStatementBuilder_Cmi5StatementPassesCmi5Validation(t *testing.T) {
	st, err := BuildCompletedStatement("user-1", "Test User", "https://lms.example.com/courses/go-101", 90, "reg-1", "sess-1")
	require.NoError(t, err)

	result := NewStatementValidator().ValidateCmi5Statement(st)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Equal(t, "PT1M30S", st.Result.Duration)
	assert.True(t, *st.Result.Completion)
}

func TestStatementBuilder_SetTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st, err := NewStatementBuilder().
		SetActor("u", "").
		SetVerb(model.VerbLaunched).
		SetObject("https://lms.example.com/courses/go-101", "", "").
		SetTimestamp(ts).
		Build()

	require.NoError(t, err)
	assert.True(t, st.Timestamp.Equal(ts))
}

func TestDurationString(t *testing.T) {
	cases := map[float64]string{
		0:    "PT0S",
		45:   "PT45S",
		90:   "PT1M30S",
		3600: "PT1H",
		3665: "PT1H1M5S",
	}
	for seconds, want := range cases {
		assert.Equal(t, want, DurationString(seconds), "seconds=%v", seconds)
	}
}

func TestActorMbox(t *testing.T) {
	assert.Equal(t, "mailto:user-42@lms.com", ActorMbox("user-42"))
}

func TestBuildPassedStatement(t *testing.T) {
	st, err := BuildPassedStatement("u", "User", "https://lms.example.com/quiz/1", 80, 0, 100, "reg-1", "sess-1")
	require.NoError(t, err)

	assert.Equal(t, model.VerbPassed.ID, st.Verb.ID)
	assert.True(t, *st.Result.Success)
	assert.InDelta(t, 0.8, *st.Result.Score.Scaled, 1e-9)
}
