package core

// Detection methods emitted by the analysis strategies.
const (
	MethodTraditional   = "traditional"
	MethodTraditionalML = "traditional_ml"
	MethodAdvancedML    = "advanced_ml"
	MethodOpenAI        = "openai"
	MethodGemini        = "gemini"
	MethodAI            = "ai"
)

// DetectionCategory is the coarse display grouping for a detection method.
type DetectionCategory string

const (
	CategoryTraditional DetectionCategory = "Traditional"
	CategoryAdvanced    DetectionCategory = "Advanced"
	CategoryGenAI       DetectionCategory = "GenAI"
	CategoryUnknown     DetectionCategory = "Unknown"
)

// ClassifyDetectionMethod collapses a raw detection method into its display
// category. Total: every input maps to exactly one category, unknown strings
// included. Export, table rendering, and the detail view all share this one
// implementation.
func ClassifyDetectionMethod(method string) DetectionCategory {
	switch method {
	case MethodTraditional, MethodTraditionalML:
		return CategoryTraditional
	case MethodAdvancedML:
		return CategoryAdvanced
	case MethodOpenAI, MethodGemini, MethodAI:
		return CategoryGenAI
	default:
		return CategoryUnknown
	}
}

// CategoryStyle is the fixed color/icon pairing for a category. Display-only.
type CategoryStyle struct {
	Color string
	Icon  string
}

var categoryStyles = map[DetectionCategory]CategoryStyle{
	CategoryTraditional: {Color: "blue", Icon: "shield"},
	CategoryAdvanced:    {Color: "purple", Icon: "cpu"},
	CategoryGenAI:       {Color: "green", Icon: "sparkles"},
	CategoryUnknown:     {Color: "gray", Icon: "help-circle"},
}

// Style returns the display styling for the category. Unknown categories get
// the Unknown styling, so this never misses.
func (c DetectionCategory) Style() CategoryStyle {
	if s, ok := categoryStyles[c]; ok {
		return s
	}
	return categoryStyles[CategoryUnknown]
}
