package domain

import "time"

// Параметры политики backoff.
const (
	// backoffBase — базовый множитель в секундах.
	backoffBase = 5

	// backoffFloor — минимальная задержка перед retry.
	backoffFloor = 10 * time.Second

	// backoffCap — максимальная задержка перед retry.
	backoffCap = 600 * time.Second

	// backoffMaxExp — показатель степени после которого рост прекращается.
	backoffMaxExp = 8
)

// Backoff вычисляет задержку перед следующей попыткой после attempts
// выполненных попыток.
//
//	Backoff(n) = clamp(2^min(n,8) * 5s, 10s, 600s)
//
// Рост экспоненциальный и монотонный: каждая следующая задержка не
// меньше предыдущей, пока не упрётся в потолок 10 минут.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	exp := attempts
	if exp > backoffMaxExp {
		exp = backoffMaxExp
	}

	d := time.Duration(backoffBase<<exp) * time.Second

	if d < backoffFloor {
		return backoffFloor
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
