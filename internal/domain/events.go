package domain

// ProcessorEventKind тип события от внешнего платежного провайдера
type ProcessorEventKind string

const (
	// EventCheckoutCompleted успешное завершение оплаты через checkout
	EventCheckoutCompleted ProcessorEventKind = "checkout_completed"
	// EventRecurringPaymentSucceeded успешное списание очередного платежа
	EventRecurringPaymentSucceeded ProcessorEventKind = "recurring_payment_succeeded"
	// EventUnrecognized неизвестный тип события; безопасно игнорируется
	EventUnrecognized ProcessorEventKind = "unrecognized"
)

// ProcessorEvent представляет собой разобранное уведомление от платежного
// провайдера. Закрытый набор вариантов: реконсилятор понимает только
// перечисленные выше типы, все остальное приходит как EventUnrecognized.
// Подпись полезной нагрузки проверяется до построения события.
type ProcessorEvent struct {
	Kind                   ProcessorEventKind `json:"kind"`
	EventID                string             `json:"event_id"`
	UserID                 int64              `json:"user_id"`
	PlanID                 int64              `json:"plan_id"`
	ExternalSubscriptionID string             `json:"external_subscription_id"`
	Amount                 float64            `json:"amount"`
}
