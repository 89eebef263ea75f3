package snapshot

import (
	"time"

	"github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	"github.com/shopspring/decimal"
)

// DateLayout is the MM-DD-YYYY form of the date column.
const DateLayout = "01-02-2006"

// Row titles. One row is emitted per conversion definition.
const (
	TitleActiveOnSite  = "Active on Site"
	TitleViewedProduct = "Viewed Product"
)

// ratePlaces is the scale every derived value is rounded to when a row is built.
const ratePlaces = 4

// Row is one line of the warehouse table, keyed by (Date, Title).
type Row struct {
	Date                string
	Title               string
	OpenRate            decimal.Decimal
	ClickRate           decimal.Decimal
	UnsubscribedRate    decimal.Decimal
	BounceRate          decimal.Decimal
	DeliveryRate        decimal.Decimal
	ConversionRate      decimal.Decimal
	RevenuePerEmail     decimal.Decimal
	ProductPurchaseRate decimal.Decimal
	AverageOrderValue   decimal.Decimal
	NewSubscribers      int64
	SubscriberCounts    int64
}

// Key returns the (date, title) identity of the row.
func (r Row) Key() [2]string {
	return [2]string{r.Date, r.Title}
}

// Snapshot is the pair of rows produced by one run.
type Snapshot struct {
	Rows []Row
}

// Rates are the derived quantities of one run, unrounded.
type Rates struct {
	TotalRecipients         decimal.Decimal
	Open                    decimal.Decimal
	Click                   decimal.Decimal
	Unsubscribed            decimal.Decimal
	Bounce                  decimal.Decimal
	Delivery                decimal.Decimal
	ConversionActiveOnSite  decimal.Decimal
	ConversionViewedProduct decimal.Decimal
	RevenuePerEmail         decimal.Decimal
	ProductPurchase         decimal.Decimal
	AverageOrderValue       decimal.Decimal
}

// ComputeRates derives every rate from the final counters.
func ComputeRates(c *aggregation.Counters) Rates {
	total := c.TotalRecipients()
	return Rates{
		TotalRecipients:         total,
		Open:                    aggregation.Rate(c.Opened, c.Delivered),
		Click:                   aggregation.Rate(c.Clicked, c.Delivered),
		Unsubscribed:            aggregation.Rate(c.Unsubscribed, total),
		Bounce:                  aggregation.Rate(c.Bounced, total),
		Delivery:                aggregation.Rate(c.Delivered, total),
		ConversionActiveOnSite:  aggregation.Rate(c.ActiveOnSite, c.Delivered),
		ConversionViewedProduct: aggregation.Rate(c.ViewedProduct, c.Delivered),
		RevenuePerEmail:         aggregation.Ratio(c.Revenue, c.Delivered),
		ProductPurchase:         aggregation.Rate(c.RevenueUnique, c.DeliveredUnique),
		AverageOrderValue:       aggregation.Ratio(c.TotalRevenue, c.TotalOrders),
	}
}

// Build turns the counters of one run into its two-row snapshot dated day.
// Both rows share every field except Title and ConversionRate.
func Build(day time.Time, c *aggregation.Counters) Snapshot {
	r := ComputeRates(c)
	base := Row{
		Date:                aggregation.DayStart(day).Format(DateLayout),
		OpenRate:            round(r.Open),
		ClickRate:           round(r.Click),
		UnsubscribedRate:    round(r.Unsubscribed),
		BounceRate:          round(r.Bounce),
		DeliveryRate:        round(r.Delivery),
		RevenuePerEmail:     round(r.RevenuePerEmail),
		ProductPurchaseRate: round(r.ProductPurchase),
		AverageOrderValue:   round(r.AverageOrderValue),
		NewSubscribers:      c.NewSubscribers.IntPart(),
		SubscriberCounts:    c.Subscribers.IntPart(),
	}

	active := base
	active.Title = TitleActiveOnSite
	active.ConversionRate = round(r.ConversionActiveOnSite)

	viewed := base
	viewed.Title = TitleViewedProduct
	viewed.ConversionRate = round(r.ConversionViewedProduct)

	return Snapshot{Rows: []Row{active, viewed}}
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(ratePlaces)
}
