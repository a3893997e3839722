package snapshot

import (
	"sort"

	"github.com/cbodonnell/tether/pkg/kinematic"
)

// LinkGroups partitions physically linked entities, such as docked vessels,
// into groups that move as one. Only the lowest id of a group is streamed.
type LinkGroups struct {
	parent map[uint16]uint16
}

// BuildLinkGroups joins the two ends of every link.
func BuildLinkGroups(links [][2]uint16) *LinkGroups {
	g := &LinkGroups{parent: make(map[uint16]uint16)}
	for _, l := range links {
		g.union(l[0], l[1])
	}
	return g
}

func (g *LinkGroups) find(id uint16) uint16 {
	p, ok := g.parent[id]
	if !ok || p == id {
		return id
	}
	root := g.find(p)
	g.parent[id] = root
	return root
}

func (g *LinkGroups) union(a, b uint16) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		g.parent[ra] = ra
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	g.parent[ra] = ra
	g.parent[rb] = ra
}

// Leader returns the lowest id linked to id, id itself when unlinked.
func (g *LinkGroups) Leader(id uint16) uint16 {
	if g == nil {
		return id
	}
	return g.find(id)
}

// IsFollower reports whether id is linked to a lower id.
func (g *LinkGroups) IsFollower(id uint16) bool {
	return g.Leader(id) != id
}

// Followers returns the other members of leader's group in id order.
func (g *LinkGroups) Followers(leader uint16) []uint16 {
	if g == nil {
		return nil
	}
	var out []uint16
	for id := range g.parent {
		if id != leader && g.find(id) == leader {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FollowerState places a follower at offset from its leader's sample.
func FollowerState(leader CharacterStateInfo, offset kinematic.Vector) CharacterStateInfo {
	follower := leader
	follower.Position = leader.Position.Add(offset)
	follower.HasInputID = false
	follower.Selected = 0
	follower.Focused = 0
	return follower
}
