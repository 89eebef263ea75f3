package aggregation

// ReportKind is the closed set of metric reports the aggregation pass understands.
// To add a report: add a constant, register its name in reportNames and give it
// an accumulation rule in the aggregation package's rule table.
type ReportKind int

const (
	ReportUnknown ReportKind = iota
	ReportReceivedEmail
	ReportDroppedEmail
	ReportMarkedEmailAsSpam
	ReportOpenedEmail
	ReportClickedEmail
	ReportSubscribedToList
	ReportUnsubscribedFromList
	ReportBouncedEmail
	ReportViewedProduct
	ReportActiveOnSite
	ReportPlacedOrder
)

// reportNames maps the metric display name reported by the API to its kind.
var reportNames = map[string]ReportKind{
	"Received Email":         ReportReceivedEmail,
	"Dropped Email":          ReportDroppedEmail,
	"Marked Email as Spam":   ReportMarkedEmailAsSpam,
	"Opened Email":           ReportOpenedEmail,
	"Clicked Email":          ReportClickedEmail,
	"Subscribed to List":     ReportSubscribedToList,
	"Unsubscribed from List": ReportUnsubscribedFromList,
	"Bounced Email":          ReportBouncedEmail,
	"Viewed Product":         ReportViewedProduct,
	"Active on Site":         ReportActiveOnSite,
	"Placed Order":           ReportPlacedOrder,
}

// ParseReportKind resolves a metric name. Unknown names return ReportUnknown, false.
func ParseReportKind(name string) (ReportKind, bool) {
	kind, ok := reportNames[name]
	if !ok {
		return ReportUnknown, false
	}
	return kind, true
}

// ReportKinds returns every known report kind in declaration order.
func ReportKinds() []ReportKind {
	kinds := make([]ReportKind, 0, len(reportNames))
	for k := ReportReceivedEmail; k <= ReportPlacedOrder; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k ReportKind) String() string {
	for name, kind := range reportNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}
