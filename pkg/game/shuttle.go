package game

import (
	"github.com/cbodonnell/tether/pkg/game/world"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/respawn"
)

// shuttle carries out the respawn coordinator's decisions in the world.
type shuttle struct {
	gm *GameManager
}

var _ respawn.Shuttle = &shuttle{}

// Dispatch replaces each assigned session's character with a fresh one
// seated in the shuttle, then launches it.
func (sh *shuttle) Dispatch(assignments []respawn.Assignment) ([]uint16, error) {
	w := sh.gm.world
	crew := make([]uint16, 0, len(assignments))
	for _, a := range assignments {
		s, ok := sh.gm.registry.Get(a.SessionID)
		if !ok {
			continue
		}
		if _, ok := w.Character(s.CharacterID); ok {
			if err := w.Despawn(s.CharacterID); err != nil {
				return crew, err
			}
		}
		c, err := w.SpawnCharacter(s.ID, s.Name, w.SeatPosition(int(a.Slot)))
		if err != nil {
			return crew, err
		}
		if err := w.Dock(c.ID, world.ShuttleID); err != nil {
			return crew, err
		}
		s.CharacterID = c.ID
		if q, ok := sh.gm.inputs[s.ID]; ok {
			q.Clear()
		}
		crew = append(crew, c.ID)
	}
	sh.gm.clientListVersion++
	return crew, w.LaunchShuttle()
}

func (sh *shuttle) Aboard(characterID uint16) bool {
	return sh.gm.world.Aboard(characterID)
}

func (sh *shuttle) Alive(characterID uint16) bool {
	return sh.gm.world.Alive(characterID)
}

func (sh *shuttle) Recall() {
	if err := sh.gm.world.RecallShuttle(); err != nil {
		log.Error("Failed to recall shuttle: %v", err)
	}
}

func (sh *shuttle) Home() bool {
	return sh.gm.world.ShuttleHome()
}

func (sh *shuttle) Reset() {
	if err := sh.gm.world.ResetShuttle(); err != nil {
		log.Error("Failed to reset shuttle: %v", err)
	}
}
