package partner

import (
	"fmt"

	"github.com/jafarshop/labconnect/internal/domain"
)

// LoginRequest represents the login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login result
type LoginResponse struct {
	Response    string `json:"response"`
	RespID      string `json:"respId"`
	APIKey      string `json:"apiKey"`
	AccessToken string `json:"accessToken,omitempty"`
}

// CreateOrderRequest represents the booking payload
type CreateOrderRequest struct {
	OrderID       string            `json:"orderId"`
	Customer      BookingCustomer   `json:"customer"`
	Address       string            `json:"address"`
	Pincode       string            `json:"pincode"`
	AppointmentAt string            `json:"appointmentAt,omitempty"`
	Items         []BookingLineItem `json:"items"`
	Total         string            `json:"total"`
}

type BookingCustomer struct {
	Name   string  `json:"name"`
	Mobile string  `json:"mobile"`
	Email  *string `json:"email,omitempty"`
	Gender *string `json:"gender,omitempty"`
	Age    *int    `json:"age,omitempty"`
}

type BookingLineItem struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Rate string `json:"rate"`
}

// CreateOrderResponse represents the booking result
type CreateOrderResponse struct {
	Response string `json:"response"`
	RespID   string `json:"respId"`
	OrderNo  string `json:"orderNo"`
}

// OrderStatusRequest represents the status-check payload
type OrderStatusRequest struct {
	OrderNo string `json:"orderNo"`
}

// OrderStatusResponse represents the status-check result
type OrderStatusResponse struct {
	Response string `json:"response"`
	RespID   string `json:"respId"`
	OrderNo  string `json:"orderNo"`
	Status   string `json:"status"`
	Remarks  string `json:"remarks,omitempty"`
}

// NewCreateOrderRequest builds the booking payload for an order
func NewCreateOrderRequest(order *domain.Order) CreateOrderRequest {
	items := make([]BookingLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, BookingLineItem{
			Code: item.ProductCode,
			Type: string(item.ProductType),
			Rate: fmt.Sprintf("%.2f", item.Price),
		})
	}

	customer := BookingCustomer{
		Name:   order.Customer.Name,
		Mobile: order.Customer.Phone,
	}
	if order.Customer.Email != "" {
		customer.Email = &order.Customer.Email
	}
	if order.Customer.Gender != "" {
		customer.Gender = &order.Customer.Gender
	}
	if order.Customer.Age > 0 {
		customer.Age = &order.Customer.Age
	}

	req := CreateOrderRequest{
		OrderID:  order.ID.String(),
		Customer: customer,
		Address:  order.Customer.Address,
		Pincode:  order.Customer.Pincode,
		Items:    items,
		Total:    fmt.Sprintf("%.2f", order.Total),
	}
	if !order.Customer.AppointmentAt.IsZero() {
		req.AppointmentAt = order.Customer.AppointmentAt.Format("2006-01-02 15:04")
	}

	return req
}
