package notifications

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

const confirmationText = `
Dear {{.CustomerName}},

Thank you for your order! Here are the details:

Order ID: {{.ID}}
Book ID: {{.BookID}}
Quantity: {{.Quantity}}
Total Price: ${{price .TotalPrice}}
Status: {{.Status}}

Your order has been received and is being processed. You will receive another email when your order is ready.

Best regards,
Book Store Team
`

const confirmationHTML = `
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2c3e50;">Order Confirmation</h2>
        <p>Dear <strong>{{.CustomerName}}</strong>,</p>
        <p>Thank you for your order! Here are the details:</p>

        <div style="background-color: #f8f9fa; padding: 20px; border-radius: 5px; margin: 20px 0;">
            <h3 style="margin-top: 0;">Order #{{.ID}}</h3>
            <p><strong>Book ID:</strong> {{.BookID}}</p>
            <p><strong>Quantity:</strong> {{.Quantity}}</p>
            <p><strong>Total Price:</strong> ${{price .TotalPrice}}</p>
            <p><strong>Status:</strong> <span style="color: #28a745;">{{.Status}}</span></p>
        </div>

        <p>Your order has been received and is being processed. You will receive another email when your order is ready.</p>

        <p>Best regards,<br>
        <strong>Book Store Team</strong></p>
    </div>
</body>
</html>
`

func formatPrice(p float64) string { return fmt.Sprintf("%.2f", p) }

var (
	textTmpl = texttemplate.Must(texttemplate.New("confirmation.txt").
			Funcs(texttemplate.FuncMap{"price": formatPrice}).
			Parse(confirmationText))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("confirmation.html").
			Funcs(htmltemplate.FuncMap{"price": formatPrice}).
			Parse(confirmationHTML))
)

// confirmationSubject is the subject line of the order confirmation email.
func confirmationSubject(orderID int64) string {
	return fmt.Sprintf("Order Confirmation - Order #%d", orderID)
}

// BuildConfirmation renders the order confirmation email for d. The same
// details always render the same email.
func BuildConfirmation(d orders.OrderDetails) (notifications.Email, error) {
	if d.Status == "" {
		d.Status = orders.StatusPending
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, d); err != nil {
		return notifications.Email{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, d); err != nil {
		return notifications.Email{}, fmt.Errorf("render html body: %w", err)
	}

	return notifications.Email{
		To:       d.CustomerEmail,
		Subject:  confirmationSubject(d.ID),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}
