package kafka

// Config содержит конфигурацию подключения к Kafka
type Config struct {
	// Brokers — список брокеров, через запятую в KAFKA_BROKERS.
	// Локальная разработка: localhost:19092, Docker: kafka:9092.
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// Topic — топик для событий жизненного цикла инвойсов.
	Topic string `env:"KAFKA_INVOICE_EVENTS_TOPIC" envDefault:"invoice.events"`
}
