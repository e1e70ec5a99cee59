package domain

// ScenarioDefinition describes a practice conversation: who the tutor plays,
// what the student should achieve, and how the conversation is ended and graded.
type ScenarioDefinition struct {
	ID          string `yaml:"id" json:"id" validate:"required,scenario_id"`
	Name        string `yaml:"name" json:"name" validate:"required,notblank"`
	Description string `yaml:"description" json:"description,omitempty"`
	Level       string `yaml:"level" json:"level,omitempty"`

	AssistantRole      string `yaml:"assistant_role" json:"assistant_role" validate:"required,notblank"`
	StudentRole        string `yaml:"student_role" json:"student_role,omitempty"`
	StudentInformation string `yaml:"student_information" json:"student_information,omitempty"`

	OpeningLine string `yaml:"opening_line" json:"opening_line,omitempty"`
	ClosingLine string `yaml:"closing_line" json:"closing_line,omitempty"`

	Goals          []string `yaml:"goals" json:"goals,omitempty"`
	Objectives     []string `yaml:"objectives" json:"objectives,omitempty"`
	Vocabulary     []string `yaml:"vocabulary" json:"vocabulary,omitempty"`
	KeyExpressions []string `yaml:"key_expressions" json:"key_expressions,omitempty"`

	EndCondition   string `yaml:"end_condition" json:"end_condition,omitempty"`
	Feedback       string `yaml:"feedback" json:"feedback,omitempty"`
	Scoring        string `yaml:"scoring" json:"scoring,omitempty"`
	AdditionalInfo string `yaml:"additional_info" json:"additional_info,omitempty"`
}
