package domain

import (
	apperrors "classroom/pkg/errors"
)

type Role string

const (
	RoleTeacher         Role = "teacher"
	RoleStudent         Role = "student"
	RolePresenterDevice Role = "presenter_device"
	RoleCoordinator     Role = "coordinator"
	RoleOperator        Role = "operator"
	RoleParent          Role = "parent"
	RoleGhost           Role = "ghost"
	RoleOwner           Role = "owner"
)

// AllRoles перечисляет все известные роли; тесты проверяют, что каждая есть в ResolveGrant.
var AllRoles = []Role{
	RoleTeacher,
	RoleStudent,
	RolePresenterDevice,
	RoleCoordinator,
	RoleOperator,
	RoleParent,
	RoleGhost,
	RoleOwner,
}

// Источники треков LiveKit
const (
	SourceCamera           = "camera"
	SourceMicrophone       = "microphone"
	SourceScreenShare      = "screen_share"
	SourceScreenShareAudio = "screen_share_audio"
)

// Grant - набор возможностей роли при входе в комнату
type Grant struct {
	CanPublish     bool     `json:"can_publish"`
	CanPublishData bool     `json:"can_publish_data"`
	CanSubscribe   bool     `json:"can_subscribe"`
	Hidden         bool     `json:"hidden"`
	Admin          bool     `json:"admin"`
	Record         bool     `json:"record"`
	PublishSources []string `json:"publish_sources,omitempty"`
}

func observerGrant(admin, record bool) Grant {
	return Grant{CanSubscribe: true, Hidden: true, Admin: admin, Record: record}
}

func ParseRole(s string) (Role, error) {
	role := Role(s)
	if _, err := ResolveGrant(role); err != nil {
		return "", err
	}
	return role, nil
}

func ResolveGrant(role Role) (Grant, error) {
	switch role {
	case RoleTeacher:
		return Grant{CanPublish: true, CanPublishData: true, CanSubscribe: true, Admin: true, Record: true}, nil
	case RoleStudent:
		return Grant{CanPublish: true, CanPublishData: true, CanSubscribe: true}, nil
	case RolePresenterDevice:
		return Grant{
			CanPublish:     true,
			PublishSources: []string{SourceScreenShare, SourceScreenShareAudio},
		}, nil
	case RoleCoordinator, RoleParent, RoleGhost:
		return observerGrant(false, false), nil
	case RoleOperator:
		return observerGrant(true, false), nil
	case RoleOwner:
		return observerGrant(true, true), nil
	}
	return Grant{}, apperrors.ErrInvalidRole
}

// IsHidden - скрыт ли участник с этой ролью из списков участников.
// Неизвестные роли считаются видимыми.
func IsHidden(role Role) bool {
	g, err := ResolveGrant(role)
	return err == nil && g.Hidden
}

// Tracked - ведется ли посещаемость для роли. Наблюдатели и второе устройство
// преподавателя не учитываются; участник без роли в метаданных учитывается.
func Tracked(role Role) bool {
	return !IsHidden(role) && role != RolePresenterDevice
}

// CanOperate - может ли роль выполнять действия оператора (go live, закрытие посещаемости)
func CanOperate(role Role) bool {
	switch role {
	case RoleOperator, RoleCoordinator, RoleOwner, RoleTeacher:
		return true
	}
	return false
}
