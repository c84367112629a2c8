package language

// Defaults returns the built-in languages. Interpreted languages run the
// interpreter directly; compiled ones build into the workspace first.
func Defaults() []Spec {
	return []Spec{
		{
			ID:          "python",
			Name:        "Python",
			Aliases:     []string{"py", "python3"},
			Image:       "python:3.12-slim",
			Extension:   "py",
			RunCommand:  "python -u {file}",
			InputTokens: []string{"input(", "raw_input(", "sys.stdin.readline", "sys.stdin.read"},
		},
		{
			ID:          "javascript",
			Name:        "JavaScript",
			Aliases:     []string{"js", "node"},
			Image:       "node:20-slim",
			Extension:   "js",
			RunCommand:  "node {file}",
			InputTokens: []string{"prompt(", "readline", "question(", "process.stdin"},
		},
		{
			ID:          "cpp",
			Name:        "C++",
			Aliases:     []string{"c++", "cxx"},
			Image:       "gcc:13",
			Extension:   "cpp",
			RunCommand:  "g++ -O2 -o {dir}/main {file} && {dir}/main",
			Compiled:    true,
			InputTokens: []string{"cin", "std::cin", "scanf", "getline", "gets"},
		},
		{
			ID:          "c",
			Name:        "C",
			Image:       "gcc:13",
			Extension:   "c",
			RunCommand:  "gcc -O2 -o {dir}/main {file} && {dir}/main",
			Compiled:    true,
			InputTokens: []string{"scanf", "fgets", "getchar", "gets"},
		},
		{
			ID:          "java",
			Name:        "Java",
			Image:       "eclipse-temurin:21",
			Extension:   "java",
			FileName:    "Main.java",
			RunCommand:  "javac -d {dir} {file} && java -cp {dir} Main",
			Compiled:    true,
			InputTokens: []string{"Scanner", "readLine", "nextLine", "nextInt", "System.in"},
		},
		{
			ID:          "go",
			Name:        "Go",
			Aliases:     []string{"golang"},
			Image:       "golang:1.22",
			Extension:   "go",
			RunCommand:  "cd {dir} && go build -o main {file} && ./main",
			Compiled:    true,
			InputTokens: []string{"fmt.Scan", "bufio.NewReader", "bufio.NewScanner", "ReadString"},
		},
	}
}
