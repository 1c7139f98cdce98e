package ml

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/internal/utils"
	"github.com/HCTech2/GOLD-HFT/logging"
)

const (
	featureCount = 9
	learningRate = 0.05
	l2Reg        = 1e-4
	// rewards are clipped so one outlier trade cannot swing the weights
	rewardClip = 15.0
)

// Perceptron is a 9-weight online linear model producing trade
// recommendations. It learns from closed-trade feedback and can persist
// its weights between runs.
type Perceptron struct {
	mu      sync.Mutex
	weights [featureCount]float64
	samples int64
	logger  logging.LoggerInterface
}

var _ interfaces.Recommender = (*Perceptron)(nil)

// NewPerceptron builds an untrained recommender.
func NewPerceptron(logger logging.LoggerInterface) *Perceptron {
	return &Perceptron{logger: logger}
}

// Features flattens a recommendation context into the model input
// vector. Exposed so the strategy can snapshot the exact features used
// at entry and hand them back on close.
func Features(ctx interfaces.RecommendContext) []float64 {
	dir := utils.DirectionSign(ctx.Direction)
	favorable := 0.0
	if ctx.Favorable {
		favorable = 1.0
	}
	return []float64{
		1,
		dir,
		ctx.IchimokuCross * dir,
		ctx.Volatility,
		ctx.VolumePressure,
		ctx.SessionScore,
		ctx.STCPrimary / 100 * dir,
		ctx.STCConfirm / 100 * dir,
		favorable,
	}
}

// Recommend scores the context and maps the confidence onto the
// multiplier contract. Positive confidence tightens the stop and
// stretches the target; negative confidence does the opposite, and
// below -0.55 the trade is vetoed outright.
func (p *Perceptron) Recommend(ctx interfaces.RecommendContext, direction string) interfaces.Recommendation {
	ctx.Direction = direction
	features := Features(ctx)

	p.mu.Lock()
	pred := p.predictLocked(features)
	p.mu.Unlock()

	c := math.Tanh(pred / 15)
	rec := interfaces.Recommendation{
		RiskMultiplier: utils.Clamp(1+0.6*c, 0.5, 2.0),
		Confidence:     c,
	}
	if c >= 0 {
		rec.SLMultiplier = utils.Clamp(1-0.25*c, 0.6, 1.0)
		rec.TPMultiplier = utils.Clamp(1+0.5*c, 1.0, 2.5)
	} else {
		rec.SLMultiplier = utils.Clamp(1-0.1*c, 1.0, 1.6)
		rec.TPMultiplier = utils.Clamp(1+0.2*c, 0.6, 1.2)
	}
	rec.SecureProfit = utils.Clamp(5*rec.RiskMultiplier, 2, 12)
	rec.ExtensionTrigger = rec.SecureProfit + utils.Clamp(3+math.Abs(pred)*0.2, 3, 20)
	rec.TrailingDistance = utils.Clamp(math.Max(ctx.Volatility*1.5, 1), 1, 15)
	rec.AvoidTrade = c < -0.55
	return rec
}

// Update performs one SGD step toward the clipped realized profit.
func (p *Perceptron) Update(exp interfaces.Experience) {
	if len(exp.Features) != featureCount {
		if p.logger != nil {
			p.logger.Error("Vecteur de features invalide (%d valeurs), mise à jour ignorée", len(exp.Features))
		}
		return
	}
	target := utils.Clamp(exp.Profit, -rewardClip, rewardClip)

	p.mu.Lock()
	defer p.mu.Unlock()
	err := target - p.predictLocked(exp.Features)
	for i := range p.weights {
		p.weights[i] += learningRate*err*exp.Features[i] - l2Reg*p.weights[i]
	}
	p.samples++
	if p.logger != nil {
		p.logger.Debug("Modèle mis à jour (échantillon %d, erreur %.3f, profit %.2f)", p.samples, err, exp.Profit)
	}
}

func (p *Perceptron) predictLocked(features []float64) float64 {
	sum := 0.0
	for i, w := range p.weights {
		sum += w * features[i]
	}
	return sum
}

type persistedState struct {
	Weights [featureCount]float64 `json:"weights"`
	Samples int64                 `json:"samples"`
}

// Save writes the weights to path.
func (p *Perceptron) Save(path string) error {
	p.mu.Lock()
	st := persistedState{Weights: p.weights, Samples: p.samples}
	p.mu.Unlock()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Load restores weights from path. A missing file is not an error: the
// model simply starts untrained.
func (p *Perceptron) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st persistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	p.mu.Lock()
	p.weights = st.Weights
	p.samples = st.Samples
	p.mu.Unlock()
	return nil
}
