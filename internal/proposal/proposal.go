package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"freelancehub/internal/metrics"
)

const (
	minMilestones = 3
	maxMilestones = 5
)

var (
	// ErrGeneration 表示模型调用失败或返回内容不符合结构要求。
	ErrGeneration = errors.New("failed to generate project proposal")
	// ErrEmptyMessage 表示调用方未提供描述。
	ErrEmptyMessage = errors.New("message is required")
)

// Milestone 是草案中的一个阶段。
type Milestone struct {
	Title       string `json:"title"`
	DueDate     string `json:"dueDate"`
	Description string `json:"description"`
	Amount      Amount `json:"amount"`
}

// Proposal 是由自由文本整理出的项目草案。
type Proposal struct {
	ProjectTitle       string      `json:"projectTitle"`
	ProjectDescription string      `json:"projectDescription"`
	Milestones         []Milestone `json:"milestones"`
}

// Amount 兼容模型偶尔以字符串返回的金额（如 "$1,200"）。
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*a = Amount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a number: %w", err)
	}
	s = strings.NewReplacer("$", "", ",", "", "USD", "", " ", "").Replace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	*a = Amount(n)
	return nil
}

// Generator 按固定 schema 生成 JSON 文本。
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Drafter 把自由文本描述转换为结构化的项目草案。
type Drafter struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewDrafter(generator Generator, timeout time.Duration, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{
		generator: generator,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Generate 调用模型并校验结果，不做重试。
func (d *Drafter) Generate(ctx context.Context, message string) (*Proposal, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	now := d.now()
	start := time.Now()
	raw, err := d.generator.GenerateJSON(ctx, buildPrompt(message, now))
	if err != nil {
		metrics.ObserveProposalGeneration(metrics.OutcomeUpstreamError, time.Since(start))
		d.logger.Error("proposal generation call failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	proposal, err := parseProposal(raw, now)
	if err != nil {
		metrics.ObserveProposalGeneration(metrics.OutcomeInvalidOutput, time.Since(start))
		d.logger.Warn("proposal output rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	metrics.ObserveProposalGeneration(metrics.OutcomeOK, time.Since(start))
	return proposal, nil
}

func buildPrompt(message string, now time.Time) string {
	return fmt.Sprintf(`Based on the following message, generate a detailed project proposal:

User message: %s
Today's Date: %s

Create a comprehensive project proposal with a clear title, detailed description, and between %d and %d milestones.
Each milestone should have a realistic title, a due date after today in YYYY-MM-DD format, a description, and a budget amount in USD.`,
		message, now.UTC().Format(time.DateOnly), minMilestones, maxMilestones)
}

func parseProposal(raw string, now time.Time) (*Proposal, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var p Proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	// 缺失或为 null 的金额会被解码成 0，需要单独看原始字段。
	var fields struct {
		Milestones []map[string]json.RawMessage `json:"milestones"`
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	p.ProjectTitle = strings.TrimSpace(p.ProjectTitle)
	p.ProjectDescription = strings.TrimSpace(p.ProjectDescription)
	if p.ProjectTitle == "" || p.ProjectDescription == "" {
		return nil, errors.New("projectTitle and projectDescription are required")
	}
	if n := len(p.Milestones); n < minMilestones || n > maxMilestones {
		return nil, fmt.Errorf("expected %d-%d milestones, got %d", minMilestones, maxMilestones, n)
	}

	for i := range p.Milestones {
		m := &p.Milestones[i]
		m.Title = strings.TrimSpace(m.Title)
		m.Description = strings.TrimSpace(m.Description)
		m.DueDate = strings.TrimSpace(m.DueDate)
		if m.Title == "" || m.Description == "" {
			return nil, fmt.Errorf("milestones[%d]: title and description are required", i)
		}
		if v, ok := fields.Milestones[i]["amount"]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("milestones[%d]: amount is required", i)
		}
		if f := float64(m.Amount); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("milestones[%d]: amount must be a finite number", i)
		}
		if m.Amount < 0 {
			return nil, fmt.Errorf("milestones[%d]: amount must not be negative", i)
		}
		due, err := parseDueDate(m.DueDate)
		if err != nil {
			return nil, fmt.Errorf("milestones[%d]: %w", i, err)
		}
		if !due.After(now) {
			return nil, fmt.Errorf("milestones[%d]: due date %s is not in the future", i, m.DueDate)
		}
	}
	return &p, nil
}

// parseDueDate 对纯日期取当天结束时刻。
func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.Add(24*time.Hour - time.Nanosecond), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", raw)
}
