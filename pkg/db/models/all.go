package models

// All lists every table owned or read by the marketplace services. Tests use it
// with AutoMigrate; production schemas come from the goose migrations.
func All() []any {
	return []any{
		&Listing{},
		&CartItem{},
		&Address{},
		&Campaign{},
		&CampaignUsage{},
		&Order{},
		&SellerOrder{},
		&SellerOrderItem{},
		&OrderEvent{},
		&PaymentIntent{},
		&PaymentEvent{},
		&Shipment{},
		&ShipmentEvent{},
		&WebhookEvent{},
		&OutboxEvent{},
	}
}
