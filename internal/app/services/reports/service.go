// Package reports generates per-org compliance report files on disk.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Service writes report files under a per-deployment directory.
type Service struct {
	dir   string
	execs storage.ExecutionStore
	txs   storage.TxEventStore
	flows storage.FlowStore
	log   *logger.Logger
}

// New creates the service rooted at dir.
func New(dir string, flows storage.FlowStore, execs storage.ExecutionStore, txs storage.TxEventStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reports")
	}
	if dir == "" {
		dir = filepath.Join("data", "compliance_reports")
	}
	return &Service{dir: dir, execs: execs, txs: txs, flows: flows, log: log}
}

// Report is the JSON document written to disk.
type Report struct {
	OrgID        string    `json:"org_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	WindowDays   int       `json:"window_days"`
	FlowCount    int       `json:"flow_count"`
	Executions   int       `json:"executions"`
	TxEvents     int       `json:"tx_events"`
	TxFailures   int       `json:"tx_failures"`
	AvgLatencyMS int64     `json:"avg_latency_ms"`
}

// Generate assembles the org's rollup and writes
// <sanitized-org-id>_<epoch-ms>.json under the reports directory.
func (s *Service) Generate(ctx context.Context, orgID string, windowDays int) (Report, string, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	flws, err := s.flows.ListFlows(ctx, orgID)
	if err != nil {
		return Report{}, "", apperr.Internal(err)
	}
	execs, err := s.execs.ListRecentExecutions(ctx, orgID, 100)
	if err != nil {
		return Report{}, "", apperr.Internal(err)
	}
	events, err := s.txs.ListTxEvents(ctx, orgID, since)
	if err != nil {
		return Report{}, "", apperr.Internal(err)
	}

	report := Report{
		OrgID:       orgID,
		GeneratedAt: time.Now().UTC(),
		WindowDays:  windowDays,
		FlowCount:   len(flws),
		Executions:  len(execs),
		TxEvents:    len(events),
	}
	var latencySum, latencyCount int64
	for _, ev := range events {
		if !ev.Success {
			report.TxFailures++
		}
		if ev.LatencyMS != nil {
			latencySum += *ev.LatencyMS
			latencyCount++
		}
	}
	if latencyCount > 0 {
		report.AvgLatencyMS = latencySum / latencyCount
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return Report{}, "", apperr.Internal(err)
	}
	name := fmt.Sprintf("%s_%d.json", sanitize(orgID), time.Now().UnixMilli())
	path := filepath.Join(s.dir, name)

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Report{}, "", apperr.Internal(err)
	}
	if err := os.WriteFile(path, encoded, 0o640); err != nil {
		return Report{}, "", apperr.Internal(err)
	}
	return report, path, nil
}

func sanitize(value string) string {
	return unsafePathChars.ReplaceAllString(value, "-")
}
