package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"manga-server/internal/model"
)

// ErrInvalidArtifact - ответ AI не удалось разобрать как JSON-артефакт фазы
var ErrInvalidArtifact = fmt.Errorf("%w: невалидный артефакт фазы", ErrAIGenerationFailed)

const defaultQualityScore = 3.0

// PhaseArtifact is the parsed output of a single phase generation call.
type PhaseArtifact struct {
	Content      json.RawMessage
	QualityScore float64
	Usage        UsageInfo
}

// Client generates the artifact for a single pipeline phase from the
// accumulated session context.
//
//go:generate mockery --name Client --output ../mocks --filename mock_generator_client.go
type Client interface {
	Generate(ctx context.Context, phase model.Phase, sctx model.SessionContext) (PhaseArtifact, error)
}

// PhaseGenerator реализует Client поверх низкоуровневого AIClient:
// строит промты фаз, разбирает и валидирует JSON-ответы.
type PhaseGenerator struct {
	ai     AIClient
	logger *zap.Logger
}

func NewPhaseGenerator(ai AIClient, logger *zap.Logger) *PhaseGenerator {
	return &PhaseGenerator{
		ai:     ai,
		logger: logger.Named("PhaseGenerator"),
	}
}

func (g *PhaseGenerator) Generate(ctx context.Context, phase model.Phase, sctx model.SessionContext) (PhaseArtifact, error) {
	systemPrompt, ok := phaseSystemPrompts[phase]
	if !ok {
		return PhaseArtifact{}, fmt.Errorf("%w: нет промта для фазы %d", ErrAIGenerationFailed, phase)
	}

	userInput, err := buildUserInput(sctx)
	if err != nil {
		return PhaseArtifact{}, fmt.Errorf("ошибка сборки контекста сессии: %w", err)
	}

	params := GenerationParams{
		Temperature: floatPtr(phaseTemperature(phase)),
	}

	text, usage, err := g.ai.GenerateText(ctx, systemPrompt, userInput, params)
	if err != nil {
		return PhaseArtifact{}, err
	}

	content, err := extractJSON(text)
	if err != nil {
		g.logger.Warn("Не удалось разобрать ответ AI как JSON",
			zap.String("phase", phase.String()),
			zap.Int("response_chars", len(text)),
			zap.Error(err))
		return PhaseArtifact{}, err
	}

	artifact := PhaseArtifact{
		Content:      content,
		QualityScore: extractQualityScore(content),
		Usage:        usage,
	}

	g.logger.Info("Артефакт фазы сгенерирован",
		zap.String("session_id", sctx.SessionID.String()),
		zap.String("phase", phase.String()),
		zap.Float64("quality_score", artifact.QualityScore),
		zap.Int("total_tokens", usage.TotalTokens))

	return artifact, nil
}

// buildUserInput собирает пользовательский ввод: заголовок, метаданные
// и артефакты предыдущих фаз в порядке их номеров.
func buildUserInput(sctx model.SessionContext) (string, error) {
	var b strings.Builder

	b.WriteString("Title: ")
	b.WriteString(sctx.Title)
	b.WriteString("\n")

	if len(sctx.Metadata) > 0 {
		b.WriteString("Metadata: ")
		b.Write(sctx.Metadata)
		b.WriteString("\n")
	}

	if len(sctx.PreviousPhases) > 0 {
		phases := make([]int, 0, len(sctx.PreviousPhases))
		for p := range sctx.PreviousPhases {
			phases = append(phases, p)
		}
		sort.Ints(phases)

		b.WriteString("\nPrevious phase artifacts:\n")
		for _, p := range phases {
			name := model.Phase(p).String()
			payload, err := json.Marshal(json.RawMessage(sctx.PreviousPhases[p]))
			if err != nil {
				return "", fmt.Errorf("фаза %s: %w", name, err)
			}
			fmt.Fprintf(&b, "### %s\n%s\n", name, payload)
		}
	}

	return b.String(), nil
}

// extractJSON достает JSON-объект из ответа модели. Модели часто оборачивают
// JSON в markdown-ограждения или добавляют текст до/после.
func extractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)

	// Убираем markdown-ограждения ```json ... ```
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: в ответе нет JSON-объекта", ErrInvalidArtifact)
	}
	candidate := trimmed[start : end+1]

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: пустой JSON-объект", ErrInvalidArtifact)
	}

	return json.RawMessage(candidate), nil
}

// extractQualityScore читает self-reported оценку качества из артефакта.
// При отсутствии или выходе за диапазон возвращает значение по умолчанию.
func extractQualityScore(content json.RawMessage) float64 {
	var probe struct {
		QualityScore *float64 `json:"quality_score"`
	}
	if err := json.Unmarshal(content, &probe); err != nil || probe.QualityScore == nil {
		return defaultQualityScore
	}
	score := *probe.QualityScore
	if score < model.MinSatisfactionScore || score > model.MaxSatisfactionScore {
		return defaultQualityScore
	}
	return score
}

// phaseTemperature - креативные фазы генерируем с более высокой температурой,
// структурные (раскадровка, интеграция) - с низкой.
func phaseTemperature(phase model.Phase) float64 {
	switch phase {
	case model.PhaseConcept, model.PhasePlot, model.PhaseCharacters:
		return 0.9
	case model.PhaseDialogue:
		return 0.8
	default:
		return 0.4
	}
}

func floatPtr(f float64) *float64 { return &f }
