package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/breakpad"
	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/throttler"
)

// crashIDPrefix is prepended to the crash id in the response body. The bare
// id is what travels through storage and publish.
const crashIDPrefix = "bp-"

const discardedBody = "Discarded=1\n"

// submit implements POST /submit: parse, throttle, assign an id, enqueue,
// and answer. Everything downstream of the queue happens asynchronously.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	payload, err := s.parser.Parse(r)
	if err != nil {
		s.rejectMalformed(w, err)
		return
	}

	s.metrics.IncrIncomingCrash()
	if payload.Compressed {
		s.metrics.IncrGzippedCrash()
	}
	s.metrics.ObserveCrashSize(payload.Compressed, payload.Size)

	report := &collector.CrashReport{
		Annotations:       payload.Annotations,
		Dumps:             payload.Dumps,
		ReceivedAt:        s.clock.Now(),
		PayloadKind:       payload.Kind,
		PayloadCompressed: payload.Compressed,
		Notes:             payload.Notes,
	}
	s.checksumDumps(report)

	result := s.throttleResult(report.Annotations)
	report.Verdict = result.Verdict
	report.RuleName = result.RuleName
	report.ThrottleRate = result.Rate

	s.metrics.IncrThrottleResult(result.Verdict.String(), result.RuleName)
	s.logger.Info("throttle result",
		zap.String("rule", result.RuleName),
		zap.String("verdict", result.Verdict.String()),
	)

	if result.Verdict == collector.Reject {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(discardedBody)) //nolint:errcheck // best-effort response
		return
	}

	s.assignCrashID(report)

	if err := s.enqueue(r.Context(), report); err != nil {
		// The queue never had the crash; the client retries on 503.
		s.logger.Warn("hand-off queue saturated; crash not accepted",
			zap.String("crash_id", report.ID),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(discardedBody)) //nolint:errcheck
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("CrashID=" + crashIDPrefix + report.ID + "\n")) //nolint:errcheck
}

func (s *Server) rejectMalformed(w http.ResponseWriter, err error) {
	reason := "malformed"
	var perr *breakpad.ParseError
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	if reason == breakpad.ReasonBadGzip {
		s.metrics.IncrBadGzippedCrash()
	}
	s.logger.Info("malformed submission rejected", zap.String("reason", reason))

	w.Header().Set("X-Collector-Reason", reason)
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(discardedBody)) //nolint:errcheck
}

func (s *Server) checksumDumps(report *collector.CrashReport) {
	report.DumpChecksums = make(map[string]string, len(report.Dumps))
	for name, dump := range report.Dumps {
		digest, err := s.hasher.Hash(dump.Data)
		if err != nil {
			// SHA-256 over a byte slice cannot fail; guard for interface
			// implementations that can.
			s.logger.Error("dump checksum failed", zap.String("dump", name), zap.Error(err))
			continue
		}
		report.DumpChecksums[name] = digest
	}
}

// throttleResult resolves the verdict for a submission. Resubmitted crashes
// carrying a valid crash id or prior throttle bookkeeping keep their earlier
// decision; everything else goes through the rule set.
func (s *Server) throttleResult(annotations collector.Annotations) throttler.Result {
	if clientID, ok := annotations[collector.AnnUUID]; ok {
		if collector.ValidCrashID(clientID, true) {
			return throttler.Result{
				Verdict:  collector.VerdictFromCrashID(clientID),
				RuleName: "from_crashid",
				Rate:     100,
			}
		}
	}

	if result, ok := s.priorThrottleResult(annotations); ok {
		return result
	}

	return s.throttler.Throttle(annotations)
}

// priorThrottleResult honours legacy_processing/throttle_rate annotations
// from an earlier collection; unusable values are counted and ignored.
func (s *Server) priorThrottleResult(annotations collector.Annotations) (throttler.Result, bool) {
	rawVerdict, hasVerdict := annotations[collector.AnnLegacyProcessing]
	rawRate, hasRate := annotations[collector.AnnThrottleRate]
	if !hasVerdict || !hasRate {
		return throttler.Result{}, false
	}

	verdict, err := strconv.Atoi(rawVerdict)
	if err != nil || (verdict != int(collector.Accept) && verdict != int(collector.Defer)) {
		s.metrics.IncrThrottleBadValues()
		return throttler.Result{}, false
	}
	rate, err := strconv.Atoi(rawRate)
	if err != nil || rate < 0 || rate > 100 {
		s.metrics.IncrThrottleBadValues()
		return throttler.Result{}, false
	}

	return throttler.Result{
		Verdict:  collector.Verdict(verdict),
		RuleName: "already_throttled",
		Rate:     rate,
	}, true
}

// assignCrashID adopts a well-formed client-supplied id or generates a new
// one; either way the date and verdict digits are stamped by the collector.
func (s *Server) assignCrashID(report *collector.CrashReport) {
	if clientID, ok := report.Annotations[collector.AnnUUID]; ok && collector.ValidCrashID(clientID, false) {
		report.ID = collector.RewriteCrashID(clientID, report.ReceivedAt, report.Verdict)
		s.logger.Info("crash id adopted from submission", zap.String("crash_id", report.ID))
	} else {
		report.ID = collector.CreateCrashID(report.ReceivedAt, report.Verdict)
	}
	report.Annotations[collector.AnnUUID] = report.ID
}

func (s *Server) enqueue(ctx context.Context, report *collector.CrashReport) error {
	if s.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
		defer cancel()
	}
	return s.queue.Enqueue(ctx, report)
}
