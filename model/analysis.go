package model

// DateLayout is the date format the analysis prompt asks for.
const DateLayout = "2006-01-02"

// RiskLevel is the overall risk rating of a contract
type RiskLevel string

// RiskLevel constants
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AnalysisResult is the normalized output of a completed analysis.
// List fields are never nil so they always serialize as arrays.
type AnalysisResult struct {
	Summary       *string   `json:"summary,omitempty"`
	Parties       []Party   `json:"parties"`
	KeyDates      []KeyDate `json:"keyDates"`
	Risks         []Risk    `json:"risks"`
	Insights      []Insight `json:"insights"`
	Title         *string   `json:"title,omitempty"`
	Counterparty  *string   `json:"counterparty,omitempty"`
	ContractType  *string   `json:"contractType,omitempty"`
	Value         *string   `json:"value,omitempty"`
	EffectiveDate *string   `json:"effectiveDate,omitempty"`
	ExpiryDate    *string   `json:"expiryDate,omitempty"`
	RiskLevel     RiskLevel `json:"riskLevel"`
}

// Party is a named participant of the contract
type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// KeyDate is a dated event, Date is YYYY-MM-DD
type KeyDate struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// Risk is a single risk finding, Level is High, Medium or Low
type Risk struct {
	Level       string `json:"level"`
	Description string `json:"description"`
}

// Insight is a free-form observation
type Insight struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// EmptyAnalysisResult returns the minimal valid result.
func EmptyAnalysisResult() *AnalysisResult {
	return &AnalysisResult{
		Parties:   []Party{},
		KeyDates:  []KeyDate{},
		Risks:     []Risk{},
		Insights:  []Insight{},
		RiskLevel: RiskLow,
	}
}
