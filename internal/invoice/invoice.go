// Package invoice формирует счёт об оплате консультации в формате xlsx.
package invoice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

const sheetName = "Invoice"

// Store сохраняет готовый файл.
type Store interface {
	Save(ctx context.Context, dir, name string, r io.Reader) (string, int64, error)
}

// Generator строит счёт и кладёт его в хранилище.
type Generator struct {
	store   Store
	baseURL string
	now     func() time.Time
}

// NewGenerator создаёт генератор. baseURL - публичный адрес API.
func NewGenerator(store Store, baseURL string) *Generator {
	return &Generator{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// FileName возвращает имя файла счёта для платежа.
func FileName(paymentID fmt.Stringer) string {
	return "invoice_" + paymentID.String() + ".xlsx"
}

// Generate формирует счёт по оплаченному платежу и возвращает ссылку на него.
// Повторный вызов перезаписывает тот же файл.
func (g *Generator) Generate(ctx context.Context, payment *models.Payment, booking *models.Booking) (string, error) {
	if payment.Status != models.PaymentStatusPaid {
		return "", fmt.Errorf("invoice: платёж %s не оплачен", payment.ID)
	}

	raw, err := g.render(payment, booking)
	if err != nil {
		return "", err
	}

	if _, _, err := g.store.Save(ctx, booking.ID.String(), FileName(payment.ID), bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("invoice: сохранение: %w", err)
	}

	return fmt.Sprintf("%s/api/payments/%s/invoice", g.baseURL, payment.ID), nil
}

func (g *Generator) render(payment *models.Payment, booking *models.Booking) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("invoice: лист: %w", err)
	}

	rows := [][]interface{}{
		{"Invoice", "INV-" + strings.ToUpper(payment.ID.String()[:8])},
		{"Issued at", g.now().UTC().Format(time.RFC3339)},
		{"Payment ID", payment.ID.String()},
		{"Transaction ID", payment.TransactionID},
		{"Method", string(payment.Method)},
		{"Booking ID", booking.ID.String()},
		{"Client ID", booking.UserID.String()},
		{"Professional ID", booking.ProfessionalID.String()},
		{"Session start (UTC)", booking.StartTime.UTC().Format(time.RFC3339)},
		{"Session end (UTC)", booking.EndTime.UTC().Format(time.RFC3339)},
		{"Amount", payment.Amount},
		{"Currency", payment.Currency},
	}

	for i, row := range rows {
		for j, val := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, val); err != nil {
				return nil, fmt.Errorf("invoice: ячейка %s: %w", cell, err)
			}
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(sheetName, "A1", fmt.Sprintf("A%d", len(rows)), style)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 22)
	_ = f.SetColWidth(sheetName, "B", "B", 40)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("invoice: запись: %w", err)
	}
	return buf.Bytes(), nil
}
