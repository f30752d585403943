package domain

// Topic is a user-defined interest category.
type Topic struct {
	ID        int64
	UserID    int64
	Name      string
	Embedding Vector
	Active    bool
}
