package config

// Runtime holds the settings that may change while the service runs.
// The pipeline takes a snapshot at the start of every cycle.
type Runtime struct {
	BatchSize         int
	Workers           int
	BackfillBatchSize int

	TopicThreshold    float64
	EventThreshold    float64
	DefaultConfidence float64

	SummaryPrompt string
	ClusterPrompt string

	SummaryModel   string
	AnalysisModel  string
	MaxTokens      int
	Temperature    float64
	MaxPromptChars int

	SummaryMaxLength int
	MinContentChars  int
	TruncateSummary  bool
}

// Runtime extracts the reloadable part of the configuration.
func (c Config) Runtime() Runtime {
	return Runtime{
		BatchSize:         c.Pipeline.BatchSize,
		Workers:           c.Pipeline.Workers,
		BackfillBatchSize: c.Pipeline.BackfillBatchSize,
		TopicThreshold:    c.Pipeline.TopicThreshold,
		EventThreshold:    c.Pipeline.EventThreshold,
		DefaultConfidence: c.Arbiter.DefaultConfidence,
		SummaryPrompt:     c.Prompts.SummaryCreation,
		ClusterPrompt:     c.Prompts.ClusterDetection,
		SummaryModel:      c.LLM.SummaryModel,
		AnalysisModel:     c.LLM.AnalysisModel,
		MaxTokens:         c.LLM.MaxTokens,
		Temperature:       c.LLM.Temperature,
		MaxPromptChars:    c.LLM.MaxPromptChars,
		SummaryMaxLength:  c.Summary.MaxLength,
		MinContentChars:   c.Summary.MinContentChars,
		TruncateSummary:   c.Summary.Truncate,
	}
}
