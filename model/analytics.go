package model

// Analytics summarizes a tenant's contracts.
type Analytics struct {
	TotalContracts     int            `json:"totalContracts"`
	RiskDistribution   map[string]int `json:"riskDistribution"`
	StatusDistribution map[string]int `json:"statusDistribution"`
}

// NewAnalytics counts contracts by risk level and status. Contracts
// without a risk level count as low.
func NewAnalytics(contracts []*Contract) *Analytics {
	a := &Analytics{
		TotalContracts:     len(contracts),
		RiskDistribution:   map[string]int{},
		StatusDistribution: map[string]int{},
	}
	for _, c := range contracts {
		risk := string(RiskLow)
		if c.RiskLevel != nil && *c.RiskLevel != "" {
			risk = *c.RiskLevel
		}
		a.RiskDistribution[risk]++
		a.StatusDistribution[string(c.Status)]++
	}
	return a
}
