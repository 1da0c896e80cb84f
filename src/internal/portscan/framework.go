package portscan

import (
	"path/filepath"
	"strings"
)

// frameworkSignature matches a framework by substrings of the lowercased
// command line or by the exact process name.
type frameworkSignature struct {
	label     string
	commands  []string
	processes []string
}

// frameworkSignatures is checked in order; the first match wins, so the
// specific frameworks come before the generic runtimes.
var frameworkSignatures = []frameworkSignature{
	{label: "Next.js", commands: []string{"next dev", "next start", "next-server", "/next/dist/"}},
	{label: "Nuxt", commands: []string{"nuxt dev", "nuxi dev", "nuxt start"}},
	{label: "Remix", commands: []string{"remix dev", "remix-serve"}},
	{label: "Astro", commands: []string{"astro dev", "astro preview"}},
	{label: "Angular", commands: []string{"ng serve", "@angular/cli"}},
	{label: "Vite", commands: []string{"vite"}},
	{label: "NestJS", commands: []string{"nest start", "@nestjs"}},
	{label: "Express", commands: []string{"express"}},
	{label: "Django", commands: []string{"manage.py runserver", "django"}},
	{label: "FastAPI", commands: []string{"uvicorn", "fastapi"}},
	{label: "Flask", commands: []string{"flask run", "flask "}},
	{label: "Streamlit", commands: []string{"streamlit run"}},
	{label: "Gradio", commands: []string{"gradio"}},
	{label: "Rails", commands: []string{"rails server", "rails s", "puma"}},
	{label: "Spring Boot", commands: []string{"spring-boot", "springframework"}},
	{label: "Quarkus", commands: []string{"quarkus"}},
	{label: "ASP.NET Core", commands: []string{"aspnetcore", "dotnet watch", "dotnet run"}},
	{label: "Aspire", commands: []string{"aspire"}},
	{label: "Hugo", commands: []string{"hugo server"}},
	{label: "Jekyll", commands: []string{"jekyll serve"}},
	{label: "Node.js", processes: []string{"node", "node.exe", "bun", "deno"}},
	{label: "Python", processes: []string{"python", "python3", "python.exe"}},
	{label: "Ruby", processes: []string{"ruby"}},
	{label: "Java", processes: []string{"java", "java.exe"}},
	{label: ".NET", processes: []string{"dotnet", "dotnet.exe"}},
	{label: "PHP", processes: []string{"php", "php-fpm", "php.exe"}},
	{label: "Docker", processes: []string{"com.docker.backend", "docker-proxy", "com.docker.vpnkit"}},
	{label: "PostgreSQL", processes: []string{"postgres", "postgres.exe"}},
	{label: "MySQL", processes: []string{"mysqld", "mysqld.exe"}},
	{label: "Redis", processes: []string{"redis-server", "redis-server.exe"}},
	{label: "MongoDB", processes: []string{"mongod", "mongod.exe"}},
}

// DetectFramework labels the runtime behind a process from its name and
// command line. It returns an empty string when nothing matches.
func DetectFramework(processName, command string) string {
	cmd := strings.ToLower(command)
	name := strings.ToLower(filepath.Base(strings.TrimSpace(processName)))

	for _, sig := range frameworkSignatures {
		for _, needle := range sig.commands {
			if cmd != "" && strings.Contains(cmd, needle) {
				return sig.label
			}
		}
		for _, proc := range sig.processes {
			if name == proc || strings.HasPrefix(name, proc+"3.") {
				return sig.label
			}
		}
	}
	return ""
}
