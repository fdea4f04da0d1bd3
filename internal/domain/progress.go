package domain

import "time"

// ProgressUpdate представляет собой одно обновление прогресса просмотра.
// Живет только в памяти: создается обработчиком запроса, попадает в очередь
// и при сбросе вливается в долговечную запись WatchHistory.
type ProgressUpdate struct {
	UserID          int64     `json:"user_id"`
	VideoKey        string    `json:"video_key"`
	CurrentPosition int64     `json:"current_position"`
	Timestamp       time.Time `json:"timestamp"`
}

// WatchHistory представляет собой долговечную запись прогресса просмотра.
// Уникальна по паре (user_id, video_key); создается при первой записи,
// далее обновляется на месте и никогда не удаляется этим сервисом.
type WatchHistory struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	VideoKey        string    `json:"video_key" db:"video_key"`
	CurrentPosition int64     `json:"current_position" db:"current_position"`
	LastUpdated     time.Time `json:"last_updated" db:"last_updated"`
}
