// Package render turns canonical alerts into note text for the sink.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/rassi0429/eew4reso/internal/domain"
)

var jst = time.FixedZone("JST", 9*60*60)

// Note renders the Japanese note body for an alert, returning the text
// and a content warning. The content warning is set only for warnings
// so clients collapse them; forecasts and cancellations post uncovered.
func Note(a domain.Alert) (string, string) {
	if a.Canceled {
		return cancellationText(a), ""
	}

	var b strings.Builder
	b.WriteString(headline(a))
	if q := a.Earthquake; q != nil {
		if q.Epicenter != nil && q.Epicenter.Name != "" {
			fmt.Fprintf(&b, "\n震源地：%s", q.Epicenter.Name)
		}
		fmt.Fprintf(&b, "\n規模：%s", formatMagnitude(q.Magnitude))
		fmt.Fprintf(&b, "\n深さ：%s", formatDepth(q.Depth))
		if !q.OriginTime.IsZero() {
			fmt.Fprintf(&b, "\n発生時刻：%s頃", q.OriginTime.In(jst).Format("2006/01/02 15:04"))
		}
	}
	if !a.MaxIntensity.IsUnknown() {
		fmt.Fprintf(&b, "\n予想最大震度：%s", a.MaxIntensity.Label())
	}
	if a.Warning && len(a.WarningRegions) > 0 {
		b.WriteString("\n強い揺れに警戒してください。")
		for _, r := range a.WarningRegions {
			name := r.Name
			if name == "" {
				name = r.Code
			}
			b.WriteString("\n・")
			b.WriteString(name)
			if !r.Intensity.IsUnknown() {
				fmt.Fprintf(&b, "（震度%s）", r.Intensity.Label())
			}
		}
	}
	if a.FreeText != "" {
		b.WriteString("\n")
		b.WriteString(a.FreeText)
	}
	return b.String(), contentWarning(a)
}

func headline(a domain.Alert) string {
	var b strings.Builder
	if a.Warning {
		b.WriteString("【緊急地震速報（警報）】")
	} else {
		b.WriteString("【緊急地震速報（予報）】")
	}
	if a.Final {
		b.WriteString("最終報")
	}
	return b.String()
}

func cancellationText(a domain.Alert) string {
	var b strings.Builder
	b.WriteString("【緊急地震速報 取消】\n先ほどの緊急地震速報は取り消されました。")
	if a.FreeText != "" {
		b.WriteString("\n")
		b.WriteString(a.FreeText)
	}
	return b.String()
}

func contentWarning(a domain.Alert) string {
	if !a.Warning {
		return ""
	}
	cw := "緊急地震速報（警報）"
	if q := a.Earthquake; q != nil && q.Epicenter != nil && q.Epicenter.Name != "" {
		cw += "：" + q.Epicenter.Name
	}
	return cw
}

func formatMagnitude(m *float64) string {
	if m == nil {
		return "不明"
	}
	return fmt.Sprintf("M%.1f", *m)
}

// formatDepth renders an approximate depth line. The agency reports
// very shallow hypocenters as 0km, which reads better as ごく浅い.
func formatDepth(d *float64) string {
	if d == nil {
		return "不明"
	}
	if *d < 1 {
		return "ごく浅い"
	}
	return fmt.Sprintf("約%.0fkm", *d)
}
