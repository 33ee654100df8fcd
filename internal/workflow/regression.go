package workflow

// IsBackward reports whether to sits earlier than from in the catalog.
// Either name being absent yields an *UnknownStageError; names are not
// trimmed or otherwise sanitised.
func IsBackward(c *Catalog, from, to string) (bool, error) {
	fromIdx, err := c.IndexOf(from)
	if err != nil {
		return false, err
	}
	toIdx, err := c.IndexOf(to)
	if err != nil {
		return false, err
	}
	return toIdx < fromIdx, nil
}
