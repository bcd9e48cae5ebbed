package confirmation

import (
	"fmt"
	"strings"
)

// UnresolvedPolicy определяет, что делать с позицией, которую не удалось сопоставить со складом.
type UnresolvedPolicy string

const (
	// PolicyContinue: залогировать, отразить в отчёте и продолжить: заказ становится paid,
	// остальные позиции списываются.
	PolicyContinue UnresolvedPolicy = "continue"
	// PolicyReject: не переводить заказ в paid, пока все позиции не сопоставлены.
	PolicyReject UnresolvedPolicy = "reject"
	// PolicyQueue: как continue, плюс событие в outbox для ручной сверки.
	PolicyQueue UnresolvedPolicy = "queue"
)

// ParseUnresolvedPolicy разбирает значение из конфигурации; пустая строка: PolicyContinue.
func ParseUnresolvedPolicy(raw string) (UnresolvedPolicy, error) {
	switch policy := UnresolvedPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "":
		return PolicyContinue, nil
	case PolicyContinue, PolicyReject, PolicyQueue:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown unresolved item policy %q (use continue|reject|queue)", raw)
	}
}
