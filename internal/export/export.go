// Package export implements the audit export and report builder: JSON/CSV
// action export, SAR/CTR report templates, and compliance certificates.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/chain"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/trust"
	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/actionstore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/digestchain"
)

// Format is the closed enumeration of export output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Result is the output of Export: a content-type-tagged payload.
type Result struct {
	Data        []byte
	ContentType string
}

// AuditExport is the JSON export envelope, always including the exported
// chain so a consumer can verify it without access to the live engine.
type AuditExport struct {
	ExportedAt  time.Time                `json:"exportedAt"`
	ProjectID   string                   `json:"projectId"`
	Actions     []action.Record          `json:"actions"`
	Chain       chain.Exported           `json:"chain"`
	TrustScores map[string]trust.Score   `json:"trustScores,omitempty"`
}

// Builder composes exports and reports from a store and chain.
type Builder struct {
	store *actionstore.Store
	chain *digestchain.Chain
}

// New constructs a Builder.
func New(store *actionstore.Store, chain *digestchain.Chain) *Builder {
	return &Builder{store: store, chain: chain}
}

// Export produces the audit export in the requested format, filtered by f.
// CSV requires pro and must be gated by the caller before invoking Export
// with FormatCSV; the builder itself has no plan awareness.
func (b *Builder) Export(projectID string, format Format, f actionstore.Filter, trustScores map[string]trust.Score) (Result, error) {
	records := b.store.Query(f)

	switch format {
	case FormatJSON, "":
		payload := AuditExport{
			ExportedAt:  time.Now().UTC(),
			ProjectID:   projectID,
			Actions:     records,
			Chain:       b.chain.Export(),
			TrustScores: trustScores,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return Result{}, kerrors.Internal("failed to marshal audit export", err)
		}
		return Result{Data: data, ContentType: "application/json"}, nil
	case FormatCSV:
		data, err := recordsToCSV(records)
		if err != nil {
			return Result{}, kerrors.Internal("failed to render audit export as csv", err)
		}
		return Result{Data: data, ContentType: "text/csv"}, nil
	default:
		return Result{}, kerrors.InvalidInput("format", "must be json or csv")
	}
}

func recordsToCSV(records []action.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "agentId", "sessionId", "type", "txHash", "chain", "amount", "token", "from", "to", "digest", "salt"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			fmt.Sprintf("%d", r.ID),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.AgentID,
			r.SessionID,
			string(r.Type),
			r.TxHash,
			string(r.Chain),
			r.Amount,
			r.Token,
			r.From,
			r.To,
			r.Digest,
			r.Salt,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SARCTRReport is a draft schema-compatible suspicious-activity/currency
// transaction report built from one billing period's activity.
type SARCTRReport struct {
	Status         string              `json:"status"`
	PeriodStart    time.Time           `json:"periodStart"`
	PeriodEnd      time.Time           `json:"periodEnd"`
	Subjects       []string            `json:"subjects"`
	Transactions   []action.Record     `json:"transactions"`
	Anomalies      []action.Record     `json:"anomalies"`
	GeneratedAt    time.Time           `json:"generatedAt"`
}

// BuildSARCTRReport aggregates the given period's transactions and
// anomalies into a draft report, deriving subjects from reporting agents.
// Pro-gated by the caller (FeatureSarCtrReports).
func (b *Builder) BuildSARCTRReport(periodStart, periodEnd time.Time) SARCTRReport {
	txs := b.store.Query(actionstore.Filter{Start: &periodStart, End: &periodEnd, Type: action.KindTransaction})
	anomalies := b.store.Query(actionstore.Filter{Start: &periodStart, End: &periodEnd, Type: action.KindAnomaly})

	seen := make(map[string]bool)
	var subjects []string
	for _, r := range txs {
		if !seen[r.AgentID] {
			seen[r.AgentID] = true
			subjects = append(subjects, r.AgentID)
		}
	}

	return SARCTRReport{
		Status:       "draft",
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Subjects:     subjects,
		Transactions: txs,
		Anomalies:    anomalies,
		GeneratedAt:  time.Now().UTC(),
	}
}

// ComplianceCertificate bundles a verifiable snapshot for one agent over a
// time range.
type ComplianceCertificate struct {
	TerminalDigest string          `json:"terminalDigest"`
	AgentID        string          `json:"agentId"`
	TrustScore     trust.Score     `json:"trustScore"`
	Actions        []action.Record `json:"actions"`
	RangeStart     time.Time       `json:"rangeStart"`
	RangeEnd       time.Time       `json:"rangeEnd"`
	Reasoning      []action.Record `json:"reasoning,omitempty"`
	IssuedAt       time.Time       `json:"issuedAt"`
}

// BuildComplianceCertificate bundles the terminal digest, the agent's trust
// score snapshot, referenced actions, the time range, and optional
// reasoning traces into one certificate.
func (b *Builder) BuildComplianceCertificate(agentID string, score trust.Score, start, end time.Time, includeReasoning bool) ComplianceCertificate {
	actions := b.store.Query(actionstore.Filter{AgentID: agentID, Start: &start, End: &end})

	cert := ComplianceCertificate{
		TerminalDigest: b.chain.Terminal(),
		AgentID:        agentID,
		TrustScore:     score,
		Actions:        actions,
		RangeStart:     start,
		RangeEnd:       end,
		IssuedAt:       time.Now().UTC(),
	}
	if includeReasoning {
		cert.Reasoning = b.store.Query(actionstore.Filter{AgentID: agentID, Start: &start, End: &end, Type: action.KindReasoning})
	}
	return cert
}
