package stack

// The supported matrix is data: adding a language, version, or
// framework is a table change, not new control flow.

// baseImages maps language -> version -> base image.
var baseImages = map[string]map[string]string{
	"node": {
		"16": "node:16-alpine",
		"18": "node:18-alpine",
		"20": "node:20-alpine",
		"21": "node:21-alpine",
	},
	"python": {
		"3.9":  "python:3.9-slim",
		"3.10": "python:3.10-slim",
		"3.11": "python:3.11-slim",
		"3.12": "python:3.12-slim",
	},
	"java": {
		"11": "openjdk:11-jre-slim",
		"17": "openjdk:17-jre-slim",
		"21": "openjdk:21-jre-slim",
	},
	"go": {
		"1.19": "golang:1.19-alpine",
		"1.20": "golang:1.20-alpine",
		"1.21": "golang:1.21-alpine",
		"1.22": "golang:1.22-alpine",
	},
}

// frameworks maps language -> accepted framework names. Empty
// framework is always accepted.
var frameworks = map[string][]string{
	"node":   {"react", "vue", "express", "nestjs", "next"},
	"python": {"django", "flask", "fastapi", "jupyter"},
	"java":   {"spring", "maven", "gradle"},
	"go":     {"gin", "echo", "fiber"},
}

// languageSteps are the per-language setup instructions emitted after
// the common preamble.
var languageSteps = map[string][]string{
	"node": {
		"RUN npm install -g npm@latest",
	},
	"python": {
		"RUN pip install --upgrade pip",
	},
	"java": {
		"RUN apt-get update && apt-get install -y curl maven gradle && rm -rf /var/lib/apt/lists/*",
	},
	"go": {
		"RUN apk add --no-cache git",
		"ENV GO111MODULE=on",
		"ENV GOPROXY=https://proxy.golang.org,direct",
	},
}

// frameworkSteps scaffold a demo project for frameworks that have one.
// Frameworks absent here are still valid; they get the base language
// setup only.
var frameworkSteps = map[string]map[string][]string{
	"node": {
		"react": {
			"RUN npm install -g create-react-app",
			"RUN npx create-react-app demo-app --template typescript",
			"WORKDIR /workspace/demo-app",
			"RUN npm install",
		},
		"vue": {
			"RUN npm install -g @vue/cli",
			"RUN vue create demo-app --default",
			"WORKDIR /workspace/demo-app",
		},
		"express": {
			"RUN npm install -g express-generator",
			"RUN express demo-app",
			"WORKDIR /workspace/demo-app",
			"RUN npm install",
		},
		"nestjs": {
			"RUN npm install -g @nestjs/cli",
			"RUN nest new demo-app --package-manager npm",
			"WORKDIR /workspace/demo-app",
		},
		"next": {
			"RUN npx create-next-app@latest demo-app --typescript --tailwind --eslint",
			"WORKDIR /workspace/demo-app",
			"RUN npm install",
		},
	},
	"python": {
		"django": {
			"RUN pip install django djangorestframework",
			"RUN django-admin startproject demo_app /workspace/demo_app",
			"WORKDIR /workspace/demo_app",
			`RUN echo "ALLOWED_HOSTS = ['*']" >> demo_app/settings.py`,
		},
		"flask": {
			"RUN pip install flask flask-restful flask-cors",
		},
		"fastapi": {
			"RUN pip install fastapi uvicorn python-multipart",
		},
		"jupyter": {
			"RUN pip install jupyter notebook jupyterlab pandas numpy matplotlib seaborn",
			"RUN jupyter notebook --generate-config",
		},
	},
	"java": {
		"spring": {
			"RUN curl https://start.spring.io/starter.zip \\",
			"    -d dependencies=web,devtools,actuator \\",
			"    -d name=demo-app \\",
			"    -d packageName=com.kubdev.demo \\",
			"    -o demo-app.zip",
			"RUN unzip demo-app.zip && rm demo-app.zip",
			"WORKDIR /workspace/demo-app",
			"RUN mvn clean compile",
		},
		"maven": {
			"RUN mvn archetype:generate \\",
			"    -DgroupId=com.kubdev.demo \\",
			"    -DartifactId=demo-app \\",
			"    -DarchetypeArtifactId=maven-archetype-quickstart \\",
			"    -DinteractiveMode=false",
			"WORKDIR /workspace/demo-app",
			"RUN mvn clean compile",
		},
	},
	"go": {
		"gin": {
			"RUN go mod init demo-app",
			"RUN go get github.com/gin-gonic/gin",
			"RUN go mod tidy",
		},
		"echo": {
			"RUN go mod init demo-app",
			"RUN go get github.com/labstack/echo/v4",
			"RUN go mod tidy",
		},
		"fiber": {
			"RUN go mod init demo-app",
			"RUN go get github.com/gofiber/fiber/v2",
			"RUN go mod tidy",
		},
	},
}

// packageInstall maps language -> command prefix for extra packages.
var packageInstall = map[string]string{
	"node":   "RUN npm install",
	"python": "RUN pip install",
}

// Matrix describes the supported stack space for discovery callers.
type Matrix struct {
	Languages  []string                     `json:"languages"`
	Frameworks map[string][]string          `json:"frameworks"`
	Versions   map[string]map[string]string `json:"versions"`
}
