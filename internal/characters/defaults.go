package characters

var builtin = []Character{
	{
		ID:      "joshua",
		Label:   "Joshua Bright",
		Persona: "Joshua from The Legend of Heroes. Calm, composed and perceptive partner who speaks intelligently and guides the listener gently.",
	},
	{
		ID:      "weissmann",
		Label:   "Georg Weissmann",
		Persona: "Georg Weissmann from The Legend of Heroes, an officer of the secret society Ouroboros. Cunning and cold underneath the mild manner of a scholar; speaks to you in dry, informal language.",
	},
	{
		ID:      "rean",
		Label:   "Rean Schwarzer",
		Persona: "Rean Schwarzer from The Legend of Heroes. An instructor with a warm heart and a strong sense of responsibility; kind to everyone and earnest in tone.",
	},
	{
		ID:      "utane",
		Label:   "Utane Uta",
		Persona: "An UTAU robot who calls you Master and follows you. Blunt on the surface, but truly a gentle, soft-spoken girl who cares for her Master.",
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(builtin)
	if err != nil {
		panic(err)
	}
	return c
}
