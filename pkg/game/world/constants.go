package world

const (
	// Reserved entity ids. Characters are numbered from FirstCharacterID.
	SpawnerID        uint16 = 1
	RespawnID        uint16 = 2
	StationID        uint16 = 3
	ShuttleID        uint16 = 4
	FirstCharacterID uint16 = 16

	// LevelWidth and LevelHeight bound the walkable area.
	LevelWidth  float64 = 1280.0
	LevelHeight float64 = 960.0
	// WallThickness of the level boundary
	WallThickness float64 = 16.0
	// CellSize of the collision space grid
	CellSize int = 16

	// CharacterSpeed is the walking speed in units per second
	CharacterSpeed float64 = 40.0
	// CharacterRunSpeed is the speed while running
	CharacterRunSpeed float64 = 60.0
	// CharacterAcceleration is how fast the velocity approaches the input direction
	CharacterAcceleration float64 = 400.0
	CharacterWidth        float64 = 16.0
	CharacterHeight       float64 = 16.0
	// CharacterHealth is the health of a freshly spawned character
	CharacterHealth byte = 100

	ShuttleWidth  float64 = 96.0
	ShuttleHeight float64 = 64.0
	// ShuttleSlots is the number of seats in the shuttle
	ShuttleSlots int = 4

	StationWidth  float64 = 128.0
	StationHeight float64 = 96.0
)

// Animation of a character as streamed in snapshots.
const (
	AnimationIdle byte = iota
	AnimationWalk
	AnimationRun
	AnimationDead
)
