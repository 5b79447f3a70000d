package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/linemk/storefront/internal/domain/models"
)

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`<h1>Спасибо за заказ!</h1>
<p>Номер заказа: <b>{{.Order.OrderNumber}}</b></p>
<table>
{{- range .Order.Lines}}
<tr><td>{{.Name}}</td><td>{{.Quantity}} x {{money .UnitPrice $.Order.Currency}}</td></tr>
{{- end}}
</table>
<p>Доставка: {{money .Order.ShippingFee .Order.Currency}}</p>
<p>Итого: <b>{{money .Order.TotalAmount .Order.Currency}}</b></p>
{{- if .Contact.FullName}}
<p>Получатель: {{.Contact.FullName}}, {{.Contact.Address}}, {{.Contact.City}}</p>
{{- end}}
`))

var statusTmpl = template.Must(template.New("status").Parse(`<p>Статус заказа <b>{{.OrderNumber}}</b> изменён: {{.Status}}</p>
`))

// OrderConfirmation собирает письмо о созданном заказе.
func OrderConfirmation(recipient string, order *models.Order, contact models.ShippingContact) (Message, error) {
	var buf bytes.Buffer
	data := struct {
		Order   *models.Order
		Contact models.ShippingContact
	}{Order: order, Contact: contact}

	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation: %w", err)
	}
	return Message{
		Recipient:   recipient,
		Subject:     "Заказ " + order.OrderNumber + " оформлен",
		HTMLBody:    buf.String(),
		OrderNumber: order.OrderNumber,
	}, nil
}

// StatusChanged собирает письмо о смене статуса.
func StatusChanged(recipient, orderNumber string, status models.OrderStatus) (Message, error) {
	var buf bytes.Buffer
	data := struct {
		OrderNumber string
		Status      models.OrderStatus
	}{OrderNumber: orderNumber, Status: status}

	if err := statusTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render status change: %w", err)
	}
	return Message{
		Recipient:   recipient,
		Subject:     "Заказ " + orderNumber + ": " + string(status),
		HTMLBody:    buf.String(),
		OrderNumber: orderNumber,
	}, nil
}

// суммы хранятся в минимальных единицах валюты
func formatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
