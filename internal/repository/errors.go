package repository

import "errors"

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrStatusConflict условная запись не прошла: статус записи изменился
	// между чтением и записью (или запись исчезла)
	ErrStatusConflict = errors.New("subscription status changed concurrently")
)
