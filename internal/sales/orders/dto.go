package orders

type CreateOrderRequest struct {
	CustomerID        int64                `json:"customer_id" validate:"required,gt=0"`
	DeliveryLatitude  *float64             `json:"delivery_latitude,omitempty" validate:"omitempty,latitude"`
	DeliveryLongitude *float64             `json:"delivery_longitude,omitempty" validate:"omitempty,longitude"`
	Notes             *string              `json:"notes,omitempty" validate:"omitempty,max=500"`
	Lines             []CreateOrderLineReq `json:"lines" validate:"required,min=1,dive"`
}

type CreateOrderLineReq struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	LineOrder int    `json:"line_order" validate:"gte=0"`
}

type TransitionRequest struct {
	Status OrderStatus `json:"status" validate:"required,oneof=CONFIRMED SHIPPED DELIVERED CANCELLED"`
	Reason *string     `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type ListOrdersRequest struct {
	CustomerID *int64       `json:"customer_id,omitempty"`
	Status     *OrderStatus `json:"status,omitempty"`
	Limit      int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int          `json:"offset" validate:"gte=0"`
}
