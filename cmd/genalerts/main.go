// Command genalerts writes the sample alert fixture used by the pipeline
// test suite: the same seismic event in every supported wire encoding,
// plus a malformed and an unrecognized entry. It runs each payload
// through the actual normalizer so the printed stats match real pipeline
// behavior.
//
// Usage:
//
//	go run ./cmd/genalerts -out data/fixtures/eew_alerts.ndjson
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rassi0429/eew4reso/internal/domain"
)

// fixtureEntry is one payload line of the generated NDJSON file. The
// payload strings are written verbatim, never re-marshaled, so the
// deliberately broken entry survives the round trip.
type fixtureEntry struct {
	label   string
	payload string
}

var entries = []fixtureEntry{
	{
		label:   "direct warning, 三陸沖 M7.1",
		payload: `{"type":"eew","timestamp":"2026-02-13T23:59:55Z","data":{"isFinal":false,"isCancel":false,"isWarning":true,"earthquake":{"originTime":"2026-02-14T08:59:40+09:00","magnitude":7.1,"depth":30,"hypocenter":{"name":"三陸沖","latitude":39.02,"longitude":143.52,"landOrSea":"sea"}},"maxIntensity":{"from":"5-","to":"5-"},"regions":[{"code":"220","name":"岩手県沿岸北部","intensity":{"from":"5-","to":"5-"}},{"code":"221","name":"岩手県沿岸南部","intensity":{"from":"4","to":"5-"}}]}}`,
	},
	{
		label:   "direct cancellation",
		payload: `{"type":"eew","timestamp":"2026-02-14T00:01:10Z","data":{"isFinal":true,"isCancel":true,"isWarning":false,"text":"先ほどの緊急地震速報は取り消されました。"}}`,
	},
	{
		label:   "direct forecast, 茨城県南部 M4.2",
		payload: `{"type":"eew","timestamp":"2026-02-14T03:12:05Z","data":{"isFinal":false,"isCancel":false,"isWarning":false,"earthquake":{"originTime":"2026-02-14T12:11:48+09:00","magnitude":4.2,"depth":50,"hypocenter":{"name":"茨城県南部","latitude":36.1,"longitude":139.9,"landOrSea":"land"}},"maxIntensity":{"from":"3","to":"3"},"regionCodes":["301"]}}`,
	},
	{
		label:   "enveloped warning with _schema wrapper, 能登半島沖 M6.8",
		payload: `{"type":"eew","timestamp":"2026-03-02T01:24:45Z","data":"{\"_schema\":{\"type\":\"eew\",\"version\":\"2.0\"},\"body\":{\"isFinal\":true,\"isCancel\":false,\"isWarning\":true,\"earthquake\":{\"originTime\":\"2026-03-02T10:24:31+09:00\",\"magnitude\":6.8,\"depth\":10,\"hypocenter\":{\"name\":\"能登半島沖\",\"latitude\":37.5,\"longitude\":137.3,\"landOrSea\":\"sea\"}},\"maxIntensity\":{\"from\":\"5+\",\"to\":\"5+\"},\"regions\":[{\"code\":\"390\",\"name\":\"石川県能登\",\"intensity\":{\"from\":\"5+\",\"to\":\"5+\"}}]}}"}`,
	},
	{
		label:   "enveloped forecast without wrapper, M3.9",
		payload: `{"type":"eew","timestamp":"2026-03-02T01:26:20Z","data":"{\"isFinal\":false,\"isCancel\":false,\"isWarning\":false,\"earthquake\":{\"originTime\":\"2026-03-02T10:26:02+09:00\",\"magnitude\":3.9,\"depth\":10},\"maxIntensity\":{\"from\":\"2\",\"to\":\"2\"}}"}`,
	},
	{
		label:   "compact warning, same event as entry 0",
		payload: `{"report_id":"20260214085942","report_num":"4","calcintensity":"5弱","magunitude":"7.1","depth":"30km","latitude":"39.02","longitude":"143.52","region_code":"220","region_name":"岩手県沿岸北部","origin_time":"20260214085940","is_final":"false","is_cancel":"false","is_training":"false","alertflg":"警報"}`,
	},
	{
		label:   "compact forecast, 大阪府北部 M4.8",
		payload: `{"report_id":"20260501132207","report_num":"1","calcintensity":"2","magunitude":"4.8","depth":"40km","latitude":"34.4","longitude":"135.3","region_code":"551","region_name":"大阪府北部","origin_time":"20260501132152","is_final":"true","is_cancel":"false","is_training":"false","alertflg":"予報"}`,
	},
	{
		label:   "compact with full-width digits and unknown magnitude",
		payload: `{"report_id":"20260501140655","report_num":"2","calcintensity":"４","magunitude":"不明","depth":"１０km","latitude":"","longitude":"","region_code":"460","region_name":"宮崎県北部平野部","origin_time":"20260501140642","is_final":"false","is_cancel":"false","is_training":"false","alertflg":"予報"}`,
	},
	{
		label:   "truncated JSON (parse failure)",
		payload: `{"type":"eew","timestamp":"2026-05-01T05:12:`,
	},
	{
		label:   "unrecognized type tag (unsupported format)",
		payload: `{"type":"quake-summary","timestamp":"2026-05-01T05:13:00Z","data":{}}`,
	},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the NDJSON alert fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// Freeze the clock so ReceivedAt stamps are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2026, time.May, 2, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	if err := writeNDJSON(*out); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d payloads: %s", len(entries), *out)

	printStats()
	return nil
}

func writeNDJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.payload)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func printStats() {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(entries))

	var accepted, failed, warnings, cancellations int
	encodings := map[string]int{}
	scores := make(map[int]float64, len(entries))

	for i, e := range entries {
		enc := domain.DetectEncoding([]byte(e.payload))
		encodings[enc]++

		a, err := domain.Normalize([]byte(e.payload))
		if err != nil {
			failed++
			fmt.Printf("  %d: %-50s encoding=%-9s error(%s)=%v\n", i, e.label, enc, domain.ErrorKind(err), err)
			continue
		}
		accepted++
		if a.Warning {
			warnings++
		}
		if a.Canceled {
			cancellations++
		}
		scores[i] = domain.Score(a)
		fmt.Printf("  %d: %-50s encoding=%-9s score=%.1f warning=%t canceled=%t\n",
			i, e.label, enc, scores[i], a.Warning, a.Canceled)
	}

	fmt.Printf("Accepted: %d, Failed: %d\n", accepted, failed)
	fmt.Printf("By encoding: direct=%d, enveloped=%d, compact=%d, unknown=%d\n",
		encodings["direct"], encodings["enveloped"], encodings["compact"], encodings["unknown"])
	fmt.Printf("Warnings: %d, Cancellations: %d\n", warnings, cancellations)
	fmt.Printf("Entries 0 and 5 score identically: %t\n", scores[0] == scores[5])
}
