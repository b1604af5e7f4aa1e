package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Kind string

const (
	KindOTP            Kind = "otp"
	KindOrderPlaced    Kind = "order_placed"
	KindOrderCancelled Kind = "order_cancelled"
)

type Message struct {
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var templates = template.Must(template.New("mail").Parse(`
{{define "otp"}}Your verification code is {{.Code}}.

It is valid for {{.ValidMinutes}} minutes and can be used once ({{.Purpose}}).
If you did not request this code you can ignore this email.
{{end}}
{{define "order_placed"}}Thank you for your order {{.Code}}.

{{range .Lines}}  {{.Quantity}} x {{.ProductID}} @ {{.UnitPrice}}
{{end}}
Subtotal:     {{.Subtotal}}
Delivery fee: {{.DeliveryFee}} ({{.DeliveryOption}})
Total:        {{.Total}}
Payment:      {{.PaymentMethod}}
{{end}}
{{define "order_cancelled"}}Your order {{.Code}} has been cancelled.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func OTPMessage(to, code, purpose string, ttl time.Duration) (Message, error) {
	body, err := render("otp", map[string]any{
		"Code":         code,
		"Purpose":      strings.ReplaceAll(purpose, "_", " "),
		"ValidMinutes": int(ttl / time.Minute),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindOTP, To: to, Subject: "Your verification code", Body: body}, nil
}

type OrderLine struct {
	ProductID string
	Quantity  int
	UnitPrice string
}

type OrderSummary struct {
	Code           string
	Lines          []OrderLine
	Subtotal       string
	DeliveryFee    string
	DeliveryOption string
	Total          string
	PaymentMethod  string
}

func OrderPlacedMessage(to string, s OrderSummary) (Message, error) {
	body, err := render("order_placed", s)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindOrderPlaced, To: to, Subject: fmt.Sprintf("Order %s confirmed", s.Code), Body: body}, nil
}

func OrderCancelledMessage(to, code, reason string) (Message, error) {
	body, err := render("order_cancelled", map[string]string{"Code": code, "Reason": reason})
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindOrderCancelled, To: to, Subject: fmt.Sprintf("Order %s cancelled", code), Body: body}, nil
}
