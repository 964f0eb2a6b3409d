package model

// Phase определяет одну фазу пайплайна генерации манги.
type Phase int

// Фазы пайплайна в порядке выполнения.
const (
	PhaseConcept         Phase = 1 // Концепция и сеттинг
	PhasePlot            Phase = 2 // Сюжет и структура глав
	PhaseCharacters      Phase = 3 // Персонажи и их дизайн
	PhasePanelLayout     Phase = 4 // Раскадровка страниц
	PhaseDialogue        Phase = 5 // Диалоги и звуковые эффекты
	PhaseImageGeneration Phase = 6 // Генерация изображений панелей
	PhaseIntegration     Phase = 7 // Финальная сборка страниц
)

// PhaseCount - общее количество фаз пайплайна.
const PhaseCount = 7

// String возвращает машинное имя фазы (используется в событиях и промптах).
func (p Phase) String() string {
	switch p {
	case PhaseConcept:
		return "concept"
	case PhasePlot:
		return "plot"
	case PhaseCharacters:
		return "characters"
	case PhasePanelLayout:
		return "panel_layout"
	case PhaseDialogue:
		return "dialogue"
	case PhaseImageGeneration:
		return "image_generation"
	case PhaseIntegration:
		return "integration"
	default:
		return "unknown"
	}
}

// IsValid проверяет, что номер фазы входит в пайплайн.
func (p Phase) IsValid() bool {
	return p >= PhaseConcept && p <= PhaseIntegration
}
