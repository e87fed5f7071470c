package model

import "time"

// Profile — редактируемая часть пользователя (форма профиля на клиенте).
type Profile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Bio       string `json:"bio"`
	Phone     string `json:"phone"`
	Avatar    string `json:"avatar"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Profile      Profile   `json:"profile"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserPublic — то, что видят другие участники (без email и хеша пароля).
type UserPublic struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Profile  Profile   `json:"profile"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// UserRef — короткая ссылка на пользователя (реакции, превью ответа).
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:       u.ID,
		Username: u.Username,
		Profile:  u.Profile,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}
