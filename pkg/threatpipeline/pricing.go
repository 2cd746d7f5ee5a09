package threatpipeline

// ModelRate is the per-million-token pricing for one model, per §6.4.
type ModelRate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultRate applies to any model absent from the rate table.
var defaultRate = ModelRate{InputPerMillion: 2.50, OutputPerMillion: 10.00}

// modelRates is the per-model pricing table referenced by §6.4. Rates are
// illustrative list prices for the provider families the pipeline targets
// and are fixed in code; no configuration setting overrides them.
var modelRates = map[string]ModelRate{
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":     {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
}

// socialStreamToolSurchargeUSD is the fixed per-call cost for a real-time
// social-stream tool invocation, per §6.4.
const socialStreamToolSurchargeUSD = 5.0 / 1000

// EstimateCost computes the token cost for one LLM call per §6.4's
// per-model rate table with default fallback.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = defaultRate
	}
	return float64(inputTokens)/1_000_000*rate.InputPerMillion +
		float64(outputTokens)/1_000_000*rate.OutputPerMillion
}
