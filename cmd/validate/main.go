// Command validate checks a dump of raw EEW feed payloads for integrity.
// Every NDJSON line is classified, normalized, scored, and rendered
// through the actual service packages, and the results are checked
// against the invariants the pipeline relies on: encoding discrimination
// agrees with the normalizer, failures classify into the error taxonomy,
// cancellations score zero, warnings render with a content warning.
//
// Usage:
//
//	go run ./cmd/validate -feed data/fixtures/eew_alerts.ndjson
//
// By default lines the normalizer rejects only count toward stats;
// -strict turns every rejection into a validation failure, for dumps
// that are expected to be fully clean.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rassi0429/eew4reso/internal/domain"
	"github.com/rassi0429/eew4reso/internal/policy"
	"github.com/rassi0429/eew4reso/internal/render"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// lineResult is one feed line after classification and normalization.
type lineResult struct {
	num      int
	encoding string
	alert    *domain.Alert
	err      error
}

func main() {
	feed := flag.String("feed", "", "path to an NDJSON dump of raw feed payloads")
	strict := flag.Bool("strict", false, "treat every rejected line as a validation failure")
	flag.Parse()

	if *feed == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*feed, *strict); code != 0 {
		os.Exit(code)
	}
}

func run(feedPath string, strict bool) int {
	// Freeze the clock so repeated runs stamp identical ReceivedAt values.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2026, time.May, 2, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== EEW Feed Integrity Validation ===")
	fmt.Println()

	results, err := loadFeed(feedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load feed: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateDiscrimination(results),
		validateNormalization(results, strict),
		validateScoring(results),
		validateRender(results),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-40s %s\n", p.name, status)
	}

	fmt.Println()
	printStats(results)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadFeed reads the dump and runs every non-blank line through the
// encoding probe and the normalizer.
func loadFeed(path string) ([]lineResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var results []lineResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		res := lineResult{num: lineNum, encoding: domain.DetectEncoding([]byte(line))}
		a, err := domain.Normalize([]byte(line))
		if err != nil {
			res.err = err
		} else {
			res.alert = &a
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no payload lines in %s", path)
	}
	return results, nil
}

// ── Phase 1: Encoding Discrimination ──
// The cheap classifier used for metric labels must recognize every
// payload the normalizer accepts; an accepted payload labeled unknown
// means the two probes have drifted apart.

func validateDiscrimination(results []lineResult) *phase {
	p := &phase{name: "Phase 1: Encoding Discrimination"}

	for _, r := range results {
		if r.alert != nil && r.encoding == "unknown" {
			p.errorf("line %d: normalized successfully but classifies as unknown encoding", r.num)
		}
	}
	return p
}

// ── Phase 2: Normalization Integrity ──
// Rejections must classify into the closed error taxonomy, and accepted
// alerts must satisfy the canonical model's field invariants.

func validateNormalization(results []lineResult, strict bool) *phase {
	p := &phase{name: "Phase 2: Normalization Integrity"}

	for _, r := range results {
		if r.err != nil {
			if kind := domain.ErrorKind(r.err); kind == "other" {
				p.errorf("line %d: rejection outside the error taxonomy: %v", r.num, r.err)
			}
			if strict {
				p.errorf("line %d: rejected (%s): %v", r.num, domain.ErrorKind(r.err), r.err)
			}
			continue
		}
		checkAlertFields(p, r.num, r.alert)
	}
	return p
}

func checkAlertFields(p *phase, num int, a *domain.Alert) {
	if a.ReceivedAt.IsZero() {
		p.errorf("line %d: ReceivedAt not stamped", num)
	}
	if len(a.WarningRegions) > 0 && len(a.RegionCodes) == 0 {
		p.errorf("line %d: warning regions present but region codes empty", num)
	}
	if !rangeOrdered(a.MaxIntensity) {
		p.errorf("line %d: max intensity range inverted: %s > %s", num, a.MaxIntensity.From, a.MaxIntensity.To)
	}
	for _, wr := range a.WarningRegions {
		if !rangeOrdered(wr.Intensity) {
			p.errorf("line %d: region %s intensity range inverted", num, wr.Code)
		}
	}

	eq := a.Earthquake
	if eq == nil {
		return
	}
	if eq.Magnitude != nil && !finiteNonNegative(*eq.Magnitude) {
		p.errorf("line %d: magnitude %v out of range", num, *eq.Magnitude)
	}
	if eq.Depth != nil && !finiteNonNegative(*eq.Depth) {
		p.errorf("line %d: depth %v out of range", num, *eq.Depth)
	}
	if eq.Epicenter != nil {
		if math.IsNaN(eq.Epicenter.Latitude) || math.IsNaN(eq.Epicenter.Longitude) {
			p.errorf("line %d: epicenter coordinates are NaN", num)
		}
	}
}

func rangeOrdered(r domain.IntensityRange) bool {
	if r.From == domain.IntensityUnknown || r.To == domain.IntensityUnknown {
		return true
	}
	return r.From <= r.To
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// ── Phase 3: Scoring Invariants ──

func validateScoring(results []lineResult) *phase {
	p := &phase{name: "Phase 3: Scoring Invariants"}

	for _, r := range results {
		if r.alert == nil {
			continue
		}
		a := *r.alert
		score := domain.Score(a)

		if a.Canceled && score != 0 {
			p.errorf("line %d: cancellation scored %g, want exactly 0", r.num, score)
		}
		if score < 0 {
			p.errorf("line %d: negative score %g", r.num, score)
		}
		if !a.Canceled && a.MaxIntensity.To != domain.IntensityUnknown && score < 20 {
			p.errorf("line %d: known intensity %s but score %g below the weight floor", r.num, a.MaxIntensity.To, score)
		}

		if !domain.IsSignificant(a, nil) {
			p.errorf("line %d: first report judged insignificant", r.num)
		}
		if domain.IsSignificant(a, &a) {
			p.errorf("line %d: alert judged significant against itself", r.num)
		}
	}
	return p
}

// ── Phase 4: Render Integrity ──

func validateRender(results []lineResult) *phase {
	p := &phase{name: "Phase 4: Render Integrity"}

	for _, r := range results {
		if r.alert == nil {
			continue
		}
		a := *r.alert
		text, cw := render.Note(a)

		if strings.TrimSpace(text) == "" {
			p.errorf("line %d: rendered note is empty", r.num)
		}
		if a.Canceled && !strings.Contains(text, "取消") {
			p.errorf("line %d: cancellation note lacks the 取消 notice", r.num)
		}
		if a.Warning && !a.Canceled && cw == "" {
			p.errorf("line %d: warning rendered without a content warning", r.num)
		}
		if !a.Warning && cw != "" {
			p.errorf("line %d: non-warning rendered with content warning %q", r.num, cw)
		}
	}
	return p
}

// ── Stats ──

func printStats(results []lineResult) {
	encodings := map[string]int{}
	errorKinds := map[string]int{}
	var accepted, warnings, cancellations, finals int
	minScore := math.Inf(1)
	maxScore := math.Inf(-1)

	for _, r := range results {
		encodings[r.encoding]++
		if r.err != nil {
			errorKinds[domain.ErrorKind(r.err)]++
			continue
		}
		accepted++
		a := *r.alert
		if a.Warning {
			warnings++
		}
		if a.Canceled {
			cancellations++
		}
		if a.Final {
			finals++
		}
		if !a.Canceled {
			s := domain.Score(a)
			minScore = math.Min(minScore, s)
			maxScore = math.Max(maxScore, s)
		}
	}

	fmt.Printf("Lines: %d total, %d accepted, %d rejected\n", len(results), accepted, len(results)-accepted)
	fmt.Printf("By encoding: direct=%d, enveloped=%d, compact=%d, unknown=%d\n",
		encodings["direct"], encodings["enveloped"], encodings["compact"], encodings["unknown"])
	fmt.Printf("Rejections: parse=%d, validation=%d, unsupported=%d\n",
		errorKinds["parse"], errorKinds["validation"], errorKinds["unsupported"])
	fmt.Printf("Alerts: warnings=%d, cancellations=%d, final reports=%d\n", warnings, cancellations, finals)
	if accepted > cancellations {
		fmt.Printf("Score range (non-canceled): %.1f to %.1f\n", minScore, maxScore)
	}

	printPolicyDryRun(results)
}

// printPolicyDryRun replays the accepted alerts in feed order through
// the default posting policy, carrying the last-delivered alert forward
// the way the live queue does.
func printPolicyDryRun(results []lineResult) {
	pol := policy.Policy{IncludeCancellations: true}
	dropReasons := map[string]int{}
	var delivered int
	var last *domain.Alert

	for _, r := range results {
		if r.alert == nil {
			continue
		}
		deliver, reason := pol.ShouldDeliver(*r.alert, last)
		if !deliver {
			dropReasons[reason]++
			continue
		}
		delivered++
		cp := *r.alert
		last = &cp
	}

	fmt.Printf("Policy dry run (defaults): delivered=%d", delivered)
	for reason, n := range dropReasons {
		fmt.Printf(", %s=%d", reason, n)
	}
	fmt.Println()
}
