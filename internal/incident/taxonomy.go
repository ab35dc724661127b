package incident

// Type is an incident taxonomy key.
type Type string

const (
	TypeMasterDataWrongProduct           Type = "master_data_wrong_product"
	TypeMasterDataUOMMismatch            Type = "master_data_uom_mismatch"
	TypeETAMissed                        Type = "eta_missed"
	TypeETAMissedComponentUnavailable    Type = "eta_missed_component_unavailable"
	TypeETAMissedMachineBreakdown        Type = "eta_missed_machine_breakdown"
	TypeETAMissedShippingUnavailable     Type = "eta_missed_shipping_method_unavailable"
	TypeWeatherIssue                     Type = "weather_issue"
	TypePaymentDelaySystem               Type = "payment_delay_system"
	TypePaymentDelayCustomerLate         Type = "payment_delay_customer_late"
	TypePaymentDelayCreditBlock          Type = "payment_delay_credit_block"
	TypeOutOfStock                       Type = "out_of_stock"
	TypeOutOfStockCustomerNoPermission   Type = "out_of_stock_customer_no_permission"
	TypeOutOfStockDelivererWaiting       Type = "out_of_stock_deliverer_waiting"
	TypeTransporterDelay                 Type = "transporter_delay"
	TypeTransporterDelayNoRefrigerated   Type = "transporter_delay_no_refrigerated_truck"
	TypeERPDown                          Type = "erp_down"
)

// Category is the UI and routing data for a taxonomy key.
type Category struct {
	Label            string   `json:"label"`
	Route            string   `json:"route"`
	Bucket           string   `json:"bucket"`
	SuggestedActions []string `json:"suggested_actions"`
}

// Buckets group related types.
const (
	BucketMasterData = "master_data"
	BucketETA        = "eta"
	BucketExternal   = "external"
	BucketPayment    = "payment"
	BucketStock      = "stock"
	BucketTransport  = "transport"
	BucketSystem     = "system"
	BucketOther      = "other"
)

var taxonomy = map[Type]Category{
	TypeMasterDataWrongProduct: {"Master Data – Product Mismatch", "/incidents/master-data", BucketMasterData, []string{"Fix mapping", "Notify supplier", "Add preventive rule"}},
	TypeMasterDataUOMMismatch:  {"Master Data – UOM Mismatch", "/incidents/master-data", BucketMasterData, []string{"Normalize UOM", "Update UOM table"}},

	TypeETAMissed:                     {"ETA Missed", "/incidents/eta-missed", BucketETA, []string{"Replan shipment", "Notify customer", "Expedite leg"}},
	TypeETAMissedComponentUnavailable: {"ETA Missed – Component Shortage", "/incidents/eta-missed", BucketETA, []string{"Reallocate stock", "Supplier expedite"}},
	TypeETAMissedMachineBreakdown:     {"ETA Missed – Machine Breakdown", "/incidents/eta-missed", BucketETA, []string{"Maintenance ticket", "Predictive maintenance"}},
	TypeETAMissedShippingUnavailable:  {"ETA Missed – Shipping Method Unavailable", "/incidents/eta-missed", BucketETA, []string{"Switch carrier", "Mode change"}},

	TypeWeatherIssue: {"Weather Delay", "/incidents/weather", BucketExternal, []string{"Reroute", "Customer notify"}},

	TypePaymentDelaySystem:       {"Payment – System Issue", "/incidents/payment", BucketPayment, []string{"Unblock gateway", "Retry payment"}},
	TypePaymentDelayCustomerLate: {"Payment – Customer Late", "/incidents/payment", BucketPayment, []string{"Reminder email", "Credit terms review"}},
	TypePaymentDelayCreditBlock:  {"Payment – Credit Block", "/incidents/payment", BucketPayment, []string{"Credit review", "Partial release"}},

	TypeOutOfStock:                     {"Out of Stock", "/incidents/stock", BucketStock, []string{"Partial ship", "Backorder plan"}},
	TypeOutOfStockCustomerNoPermission: {"Partial Shipment Not Allowed", "/incidents/stock", BucketStock, []string{"Get approval", "Reconfirm split"}},
	TypeOutOfStockDelivererWaiting:     {"Deliverer Waiting for Advice", "/incidents/stock", BucketStock, []string{"Contact consignee", "Escalate logistics"}},

	TypeTransporterDelay:               {"Transporter Delay", "/incidents/transport", BucketTransport, []string{"SLA claim", "Backup carrier"}},
	TypeTransporterDelayNoRefrigerated: {"Transporter – No Refrigerated Truck", "/incidents/transport", BucketTransport, []string{"Reschedule reefer", "Alternate carrier"}},

	TypeERPDown: {"ERP Down / Hacked", "/incidents/system", BucketSystem, []string{"IT incident", "Failover runbook"}},
}

// Lookup returns the category for t. Unknown types are accepted and land
// in the "other" bucket labelled with the raw type and no actions.
func Lookup(t Type) Category {
	if c, ok := taxonomy[t]; ok {
		c.SuggestedActions = append([]string(nil), c.SuggestedActions...)
		return c
	}
	return Category{Label: string(t), Route: "/incidents/other", Bucket: BucketOther, SuggestedActions: []string{}}
}

// Known reports whether t is a taxonomy key.
func Known(t Type) bool {
	_, ok := taxonomy[t]
	return ok
}

// Types returns every taxonomy key.
func Types() []Type {
	out := make([]Type, 0, len(taxonomy))
	for t := range taxonomy {
		out = append(out, t)
	}
	return out
}

// SeverityMeta is display data for a severity.
type SeverityMeta struct {
	Color    string `json:"color"`
	Priority int    `json:"priority"`
}

var severityMeta = map[string]SeverityMeta{
	"low":      {"green", 1},
	"medium":   {"amber", 2},
	"high":     {"orange", 3},
	"critical": {"red", 4},
}

// MetaFor returns display data for severity; "" counts as low and unknown
// severities are gray with priority 0.
func MetaFor(severity string) SeverityMeta {
	if severity == "" {
		severity = "low"
	}
	if m, ok := severityMeta[severity]; ok {
		return m
	}
	return SeverityMeta{Color: "gray", Priority: 0}
}
