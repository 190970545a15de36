package ai

import (
	"context"
	"time"
)

const defaultSimulatedDelay = time.Second

// simulatedProvider returns a fixed document. Used for demos and tests.
type simulatedProvider struct {
	delay time.Duration
}

func NewSimulatedProvider(delay time.Duration) Provider {
	if delay < 0 {
		delay = 0
	}
	return &simulatedProvider{delay: delay}
}

func (p *simulatedProvider) Name() string { return "simulated" }

// ExtractContractData never fails; cancellation only shortens the delay.
func (p *simulatedProvider) ExtractContractData(ctx context.Context, _ string) (Document, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	return simulatedDocument(), nil
}

func simulatedDocument() Document {
	return Document{
		MandatoryGroup: map[string]any{
			"parties":            "ACME Ltd. (contractor) and Beta Services Inc. (client)",
			"monetary_values":    "USD 10,000.00 per month",
			"main_obligations":   "Contractor delivers consulting services; client pays monthly by the 5th business day",
			"contract_object":    "Provision of IT consulting services",
			"term":               "12 months from signature",
			"termination_clause": "Either party may terminate with 30 days written notice",
		},
		CrucialGroup: map[string]any{
			"jurisdiction":     "Courts of the client's headquarters city",
			"price_adjustment": "Yearly by consumer price index",
			"guarantees":       NotSpecified,
			"penalties":        "10% of the monthly fee for late delivery",
			"confidentiality":  "Both parties keep shared information confidential for 5 years",
			"renewal":          "Automatic renewal for equal periods unless notice is given",
		},
	}
}
