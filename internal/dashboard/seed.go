package dashboard

// Seed fills c with a small demo project.
func Seed(c *Content) error {
	proj, err := c.AddProject("", "notes")
	if err != nil {
		return err
	}
	if _, err := c.AddFile(proj, "", "readme.md", "text/markdown", []byte("# Notes\n\nWelcome.\n")); err != nil {
		return err
	}
	docs, err := c.AddFolder(proj, "", "docs")
	if err != nil {
		return err
	}
	if _, err := c.AddFile(docs, "", "todo.txt", "", []byte("- link this device\n")); err != nil {
		return err
	}
	_, err = c.AddProject("", "photos")
	return err
}
