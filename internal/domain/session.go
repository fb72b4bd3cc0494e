package domain

import "time"

// SessionContext — состояние визита посетителя. Владеет им сессионное
// хранилище; ядро пайплайна читает его как входные данные и не меняет.
type SessionContext struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	IsNewSession bool      `json:"is_new_session"`  // Первый хит после окна неактивности
	IsFirstVisit bool      `json:"is_first_visit"`  // Посетитель раньше не встречался
	SessionCount int       `json:"session_count"`   // Порядковый номер сессии
	LastSeen     time.Time `json:"last_seen"`       // Служебное: для окна неактивности
}
