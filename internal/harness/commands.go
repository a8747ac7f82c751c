package harness

// EndOfInput terminates a load transfer (ASCII SUB, Ctrl+Z).
const EndOfInput byte = 0x1A

const helpCommand = "help\r"

func loadCommand(name string) string {
	return "load " + name + "\r"
}

func runCommand(name string) string {
	return "run " + name + "\r"
}

// loadFrame is everything written to store content under name on the device.
func loadFrame(name string, content []byte) [][]byte {
	return [][]byte{
		[]byte(loadCommand(name)),
		content,
		[]byte("\r"),
		{EndOfInput},
	}
}
