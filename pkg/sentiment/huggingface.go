package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultInferenceURL = "https://api-inference.huggingface.co"
	// maxInputRunes keeps requests under the 512-token window of BERT-sized models.
	maxInputRunes = 1500
)

// DefaultModels maps model keys to Hugging Face repositories.
var DefaultModels = map[string]string{
	ModelFinBERT:    "ProsusAI/finbert",
	ModelCryptoBERT: "ElKulako/cryptobert",
}

// HuggingFaceConfig configures the inference endpoint.
type HuggingFaceConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Models   map[string]string
}

// HuggingFace scores text with a text-classification model served over the
// Hugging Face inference API (or any endpoint speaking the same protocol).
type HuggingFace struct {
	client  *http.Client
	baseURL string
	token   string
	repo    string
}

// NewHuggingFaceFactory returns a Factory resolving model keys through cfg.Models.
func NewHuggingFaceFactory(cfg HuggingFaceConfig) Factory {
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	return func(model string) (Scorer, error) {
		repo, ok := models[model]
		if !ok || repo == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
		}
		return NewHuggingFace(cfg.BaseURL, cfg.APIToken, repo, cfg.Timeout), nil
	}
}

// NewHuggingFace creates a scorer for one model repository.
func NewHuggingFace(baseURL, token, repo string, timeout time.Duration) *HuggingFace {
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HuggingFace{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		repo:    repo,
	}
}

type classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Analyze sends text to the model and folds the class probabilities into a
// single polarity: P(bullish) - P(bearish).
func (h *HuggingFace) Analyze(ctx context.Context, text string) (Result, error) {
	if runes := []rune(text); len(runes) > maxInputRunes {
		text = string(runes[:maxInputRunes])
	}

	body, _ := json.Marshal(map[string]any{
		"inputs":  text,
		"options": map[string]bool{"wait_for_model": true},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/models/"+h.repo, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call inference %s: %w", h.repo, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("inference %s status %d: %s", h.repo, resp.StatusCode, truncateStr(string(raw), 200))
	}

	classes, err := decodeClassifications(raw)
	if err != nil {
		return Result{}, fmt.Errorf("decode inference response: %w", err)
	}
	return fold(classes), nil
}

// decodeClassifications accepts both the nested [[...]] shape returned for
// a single input and a flat [...] list.
func decodeClassifications(raw []byte) ([]classification, error) {
	var nested [][]classification
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	var flat []classification
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("empty classification list")
	}
	return flat, nil
}

func fold(classes []classification) Result {
	var bull, bear, neutral float64
	for _, c := range classes {
		switch normalizeLabel(c.Label) {
		case Bullish:
			bull += c.Score
		case Bearish:
			bear += c.Score
		default:
			neutral += c.Score
		}
	}

	label := Neutral
	if bull > bear && bull > neutral {
		label = Bullish
	} else if bear > bull && bear > neutral {
		label = Bearish
	}
	return Result{Label: label, Score: clamp(bull-bear, -1, 1)}
}

func normalizeLabel(label string) Label {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "bullish", "pos":
		return Bullish
	case "negative", "bearish", "neg":
		return Bearish
	default:
		return Neutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
