package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// View structs keep the wire format decoupled from the gorm models.

type cartView struct {
	ID        uuid.UUID        `json:"id"`
	UserID    *uuid.UUID       `json:"userId,omitempty"`
	SessionID *string          `json:"sessionId,omitempty"`
	Status    enums.CartStatus `json:"status"`
	Currency  enums.Currency   `json:"currency"`
	Items     []cartItemView   `json:"items"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type cartItemView struct {
	ID        uuid.UUID       `json:"id"`
	VariantID uuid.UUID       `json:"variantId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	TriedOn3D bool            `json:"triedOn3d"`
}

func newCartView(cart *models.Cart) cartView {
	view := cartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		SessionID: cart.SessionID,
		Status:    cart.Status,
		Currency:  cart.Currency,
		Items:     make([]cartItemView, 0, len(cart.Items)),
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		view.Items = append(view.Items, cartItemView{
			ID:        item.ID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			TriedOn3D: item.TriedOn3D,
		})
	}
	return view
}

type orderView struct {
	ID                uuid.UUID         `json:"id"`
	Status            enums.OrderStatus `json:"status"`
	TotalAmount       decimal.Decimal   `json:"totalAmount"`
	Currency          enums.Currency    `json:"currency"`
	ShippingAddressID uuid.UUID         `json:"shippingAddressId"`
	Items             []orderItemView   `json:"items"`
	CreatedAt         time.Time         `json:"createdAt"`
}

type orderItemView struct {
	ID          uuid.UUID       `json:"id"`
	VariantID   uuid.UUID       `json:"variantId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TriedOn3D   bool            `json:"triedOn3d"`
}

func newOrderView(order *models.Order) orderView {
	view := orderView{
		ID:                order.ID,
		Status:            order.Status,
		TotalAmount:       order.TotalAmount,
		Currency:          order.Currency,
		ShippingAddressID: order.ShippingAddressID,
		Items:             make([]orderItemView, 0, len(order.Items)),
		CreatedAt:         order.CreatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, orderItemView{
			ID:          item.ID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TriedOn3D:   item.TriedOn3D,
		})
	}
	return view
}

type priceRecordView struct {
	ID        uuid.UUID       `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Currency  enums.Currency  `json:"currency"`
	ValidFrom time.Time       `json:"validFrom"`
	ValidTo   *time.Time      `json:"validTo,omitempty"`
}

func newPriceRecordView(record *models.PriceRecord) priceRecordView {
	return priceRecordView{
		ID:        record.ID,
		Price:     record.Price,
		Currency:  record.Currency,
		ValidFrom: record.ValidFrom,
		ValidTo:   record.ValidTo,
	}
}

type returnView struct {
	ID             uuid.UUID                  `json:"id"`
	OrderID        uuid.UUID                  `json:"orderId"`
	Reason         string                     `json:"reason"`
	ReasonCategory enums.ReturnReasonCategory `json:"reasonCategory"`
	TriedOn3D      bool                       `json:"triedOn3d"`
	Status         enums.ReturnStatus         `json:"status"`
	CreatedAt      time.Time                  `json:"createdAt"`
}

func newReturnView(ret *models.Return) returnView {
	return returnView{
		ID:             ret.ID,
		OrderID:        ret.OrderID,
		Reason:         ret.Reason,
		ReasonCategory: ret.ReasonCategory,
		TriedOn3D:      ret.TriedOn3D,
		Status:         ret.Status,
		CreatedAt:      ret.CreatedAt,
	}
}

type notificationView struct {
	ID          uuid.UUID              `json:"id"`
	Type        enums.NotificationType `json:"type"`
	ReferenceID *uuid.UUID             `json:"referenceId,omitempty"`
	ReadAt      *time.Time             `json:"readAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

func newNotificationView(n *models.Notification) notificationView {
	return notificationView{
		ID:          n.ID,
		Type:        n.Type,
		ReferenceID: n.ReferenceID,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
	}
}

type variantView struct {
	ID    uuid.UUID `json:"id"`
	SKU   string    `json:"sku"`
	Stock int       `json:"stock"`
}

func newVariantView(v *models.Variant) variantView {
	return variantView{ID: v.ID, SKU: v.SKU, Stock: v.Stock}
}
