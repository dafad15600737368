// Package invoice рассчитывает суммы счёта за замену батареи.
//
// Все суммы — целые денежные единицы, расчёт только в int64.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/swapstation/internal/model"
)

// ErrInvalidAmounts возвращается при отрицательных суммах или скидке больше суммы.
var ErrInvalidAmounts = errors.New("invalid invoice amounts")

const bpsDenominator = 10000

// ServiceAmounts — стоимость услуги и скидки, применяемые к счёту.
type ServiceAmounts struct {
	Origin         int64
	Discount       int64
	FeeDiscountBps int64
}

func applyBps(amount, bps int64) int64 {
	if bps <= 0 {
		return 0
	}
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	return amount * bps / bpsDenominator
}

// Quote переводит цены станции и подписки в суммы услуги.
func Quote(p model.ServicePricing) ServiceAmounts {
	return ServiceAmounts{
		Origin:         p.BasePrice,
		Discount:       applyBps(p.BasePrice, p.SwapDiscountBps),
		FeeDiscountBps: p.DamageDiscountBps,
	}
}

// Lines строит строки дефектов счёта со скидкой по каждой строке.
func Lines(fees []model.DamageFee, discountBps int64) []model.InvoiceDamageFee {
	lines := make([]model.InvoiceDamageFee, 0, len(fees))
	for _, f := range fees {
		discount := applyBps(f.Amount, discountBps)
		lines = append(lines, model.InvoiceDamageFee{
			DamageFeeID:    f.ID,
			Name:           f.Name,
			Severity:       f.Severity,
			AmountOriginal: f.Amount,
			AmountDiscount: discount,
			AmountFinal:    f.Amount - discount,
		})
	}
	return lines
}

// Recompute пересчитывает итог счёта из составляющих.
func Recompute(inv *model.Invoice) {
	inv.AmountTotal = (inv.AmountOrigin - inv.AmountDiscount) + (inv.AmountFee - inv.AmountFeeDiscount)
}

// Materialize собирает счёт для сессии из сумм услуги и строк дефектов.
func Materialize(kind model.InvoiceType, s *model.SwapSession, amounts ServiceAmounts, lines []model.InvoiceDamageFee) (*model.Invoice, error) {
	if amounts.Origin < 0 || amounts.Discount < 0 || amounts.Discount > amounts.Origin {
		return nil, fmt.Errorf("%w: service %d discount %d", ErrInvalidAmounts, amounts.Origin, amounts.Discount)
	}

	inv := &model.Invoice{
		Type:           kind,
		AmountOrigin:   amounts.Origin,
		AmountDiscount: amounts.Discount,
		Status:         model.InvoiceStatusProcessing,
		CreatedAt:      time.Now().UTC(),
	}
	if s != nil {
		id := s.ID
		inv.SwapSessionID = &id
		inv.UserID = s.UserID
	}

	for i, l := range lines {
		if l.AmountOriginal < 0 || l.AmountDiscount < 0 || l.AmountDiscount > l.AmountOriginal {
			return nil, fmt.Errorf("%w: line %d (%s)", ErrInvalidAmounts, i, l.DamageFeeID)
		}
		inv.AmountFee += l.AmountOriginal
		inv.AmountFeeDiscount += l.AmountDiscount
	}

	Recompute(inv)
	return inv, nil
}
