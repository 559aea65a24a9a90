package carrier

import "fulfillment-service/internal/models"

// statusMap translates the carrier's status vocabulary to internal shipping
// statuses. Codes the carrier adds later fall through to UNKNOWN so tracking
// sync never hard-fails on vocabulary drift.
var statusMap = map[string]models.ShippingStatus{
	"ready_to_pick":            models.ShippingStatusPending,
	"picking":                  models.ShippingStatusPending,
	"money_collect_picking":    models.ShippingStatusPending,
	"picked":                   models.ShippingStatusShipped,
	"storing":                  models.ShippingStatusShipped,
	"transporting":             models.ShippingStatusShipped,
	"sorting":                  models.ShippingStatusShipped,
	"delivering":               models.ShippingStatusOutForDelivery,
	"money_collect_delivering": models.ShippingStatusOutForDelivery,
	"delivered":                models.ShippingStatusDelivered,
	"delivery_fail":            models.ShippingStatusPending,
	"waiting_to_return":        models.ShippingStatusReturned,
	"return":                   models.ShippingStatusReturned,
	"return_transporting":      models.ShippingStatusReturned,
	"return_sorting":           models.ShippingStatusReturned,
	"returning":                models.ShippingStatusReturned,
	"return_fail":              models.ShippingStatusReturned,
	"returned":                 models.ShippingStatusReturned,
	"cancel":                   models.ShippingStatusCancelled,
	"exception":                models.ShippingStatusLost,
	"lost":                     models.ShippingStatusLost,
	"damage":                   models.ShippingStatusLost,
}

// MapStatus maps a carrier status code to the internal shipping status.
// Unrecognized codes map to the UNKNOWN sentinel.
func MapStatus(carrierStatus string) models.ShippingStatus {
	if s, ok := statusMap[carrierStatus]; ok {
		return s
	}
	return models.ShippingStatusUnknown
}
