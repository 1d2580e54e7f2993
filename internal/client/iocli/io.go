package iocli

//go:generate moq -out io_mock.go . IO

// IO абстракция терминального ввода/вывода команд клиента
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)

	// IsInteractive сообщает, подключен ли stdin к терминалу.
	// Интерактивное разрешение конфликтов требует терминала.
	IsInteractive() bool
}
