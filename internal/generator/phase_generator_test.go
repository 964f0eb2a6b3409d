package generator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

// aiClientStub возвращает заранее заданный ответ модели.
type aiClientStub struct {
	response string
	usage    UsageInfo
	err      error

	lastSystemPrompt string
	lastUserInput    string
	lastParams       GenerationParams
}

func (s *aiClientStub) GenerateText(_ context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error) {
	s.lastSystemPrompt = systemPrompt
	s.lastUserInput = userInput
	s.lastParams = params
	return s.response, s.usage, s.err
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain object",
			input: `{"concept": "киберпанк"}`,
			want:  `{"concept": "киберпанк"}`,
		},
		{
			name:  "markdown fenced",
			input: "```json\n{\"concept\": \"киберпанк\"}\n```",
			want:  `{"concept": "киберпанк"}`,
		},
		{
			name:  "surrounding prose",
			input: "Вот результат:\n{\"concept\": \"киберпанк\"}\nНадеюсь, подходит!",
			want:  `{"concept": "киберпанк"}`,
		},
		{
			name:    "no json at all",
			input:   "Извините, не могу помочь с этим запросом.",
			wantErr: true,
		},
		{
			name:    "broken json",
			input:   `{"concept": `,
			wantErr: true,
		},
		{
			name:    "empty object",
			input:   `{}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidArtifact)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestExtractQualityScore(t *testing.T) {
	assert.Equal(t, 4.2, extractQualityScore(json.RawMessage(`{"quality_score": 4.2}`)))
	assert.Equal(t, defaultQualityScore, extractQualityScore(json.RawMessage(`{"concept": "x"}`)))
	// Вне диапазона 1.0-5.0 - откат к значению по умолчанию
	assert.Equal(t, defaultQualityScore, extractQualityScore(json.RawMessage(`{"quality_score": 9.9}`)))
	assert.Equal(t, defaultQualityScore, extractQualityScore(json.RawMessage(`{"quality_score": 0.2}`)))
	assert.Equal(t, defaultQualityScore, extractQualityScore(json.RawMessage(`not json`)))
}

func TestBuildUserInput(t *testing.T) {
	sctx := model.SessionContext{
		SessionID: uuid.New(),
		Title:     "Стальной рассвет",
		Metadata:  json.RawMessage(`{"genre": "mecha"}`),
		PreviousPhases: map[int]json.RawMessage{
			2: json.RawMessage(`{"plot": "..."}`),
			1: json.RawMessage(`{"concept": "..."}`),
		},
	}

	input, err := buildUserInput(sctx)
	require.NoError(t, err)

	assert.Contains(t, input, "Title: Стальной рассвет")
	assert.Contains(t, input, `{"genre": "mecha"}`)

	// Артефакты фаз идут в порядке номеров
	conceptIdx := strings.Index(input, "### concept")
	plotIdx := strings.Index(input, "### plot")
	require.GreaterOrEqual(t, conceptIdx, 0)
	require.GreaterOrEqual(t, plotIdx, 0)
	assert.Less(t, conceptIdx, plotIdx)
}

func TestPhaseTemperature(t *testing.T) {
	assert.Equal(t, 0.9, phaseTemperature(model.PhaseConcept))
	assert.Equal(t, 0.9, phaseTemperature(model.PhaseCharacters))
	assert.Equal(t, 0.8, phaseTemperature(model.PhaseDialogue))
	assert.Equal(t, 0.4, phaseTemperature(model.PhasePanelLayout))
	assert.Equal(t, 0.4, phaseTemperature(model.PhaseIntegration))
}

func TestPhaseGenerator_Generate(t *testing.T) {
	stub := &aiClientStub{
		response: "```json\n{\"panels\": 6, \"quality_score\": 4.4}\n```",
		usage:    UsageInfo{PromptTokens: 120, CompletionTokens: 300, TotalTokens: 420},
	}
	gen := NewPhaseGenerator(stub, zap.NewNop())

	sctx := model.SessionContext{
		SessionID: uuid.New(),
		Title:     "Стальной рассвет",
	}

	artifact, err := gen.Generate(context.Background(), model.PhasePanelLayout, sctx)
	require.NoError(t, err)

	assert.JSONEq(t, `{"panels": 6, "quality_score": 4.4}`, string(artifact.Content))
	assert.Equal(t, 4.4, artifact.QualityScore)
	assert.Equal(t, 420, artifact.Usage.TotalTokens)

	require.NotNil(t, stub.lastParams.Temperature)
	assert.Equal(t, 0.4, *stub.lastParams.Temperature)
	assert.Contains(t, stub.lastSystemPrompt, "quality_score")
	assert.Contains(t, stub.lastUserInput, "Title: Стальной рассвет")
}

func TestPhaseGenerator_InvalidResponse(t *testing.T) {
	stub := &aiClientStub{response: "Не могу сгенерировать раскадровку."}
	gen := NewPhaseGenerator(stub, zap.NewNop())

	_, err := gen.Generate(context.Background(), model.PhasePanelLayout, model.SessionContext{
		SessionID: uuid.New(),
		Title:     "Манга",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}
