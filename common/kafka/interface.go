// common/kafka/interface.go
//
// Пакет kafka задаёт минимальные контракты обмена сообщениями, не тянет
// за собой Sarama и никак не зависит от конкретной реализации.
package kafka

import "context"

// Message — одна пара key/value внутри Record. Value непрозрачен
// (обычно JSON).
type Message struct {
	Key   []byte `json:"key,omitempty"`
	Value []byte `json:"value"`
}

// Record — исходящая запись: топик, опциональный ключ маршрутизации и
// набор сообщений. Key применяется ко всем сообщениям без собственного ключа.
type Record struct {
	Topic    string    `json:"topic"`
	Key      []byte    `json:"key,omitempty"`
	Messages []Message `json:"messages"`
}

// MessageKey возвращает ключ, с которым сообщение уйдёт в брокер.
func (r Record) MessageKey(m Message) []byte {
	if m.Key != nil {
		return m.Key
	}
	return r.Key
}

// BatchSender отправляет пачку записей одним запросом.
type BatchSender interface {
	// SendBatch отправляет все сообщения всех records одним запросом,
	// сжимая их кодеком codec. Ошибка должна позволять понять, какие
	// топики и сколько сообщений не ушли.
	SendBatch(ctx context.Context, records []Record, codec Compression) error
	// Ping проверяет достижимость кластера (обновление метаданных).
	Ping(ctx context.Context) error
	// Close освобождает соединение. Вызывается ровно один раз.
	Close() error
}

// Topics возвращает топики записей в порядке их следования (с повторами).
func Topics(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Topic
	}
	return out
}

// MessageCounts возвращает число сообщений в каждой записи.
func MessageCounts(records []Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = len(r.Messages)
	}
	return out
}
